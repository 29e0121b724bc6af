package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
)

const containerName = "proc"

// KubernetesConfig holds configuration for the Kubernetes runtime.
type KubernetesConfig struct {
	// Namespace where process pods will be created
	Namespace string
	// ServiceAccount for process pods (optional)
	ServiceAccount string
	// Default resource limits
	DefaultCPULimit    string
	DefaultMemoryLimit string
	// Image used when StartOptions.Image is empty
	DefaultImage string
}

// attachFunc streams the pod's stdio until the attach session ends.
type attachFunc func(ctx context.Context, namespace, pod string, streams remotecommand.StreamOptions) error

// KubernetesRuntime implements the Runtime interface using bare Pods with an
// open stdin, attached over SPDY.
type KubernetesRuntime struct {
	clientset  kubernetes.Interface
	config     KubernetesConfig
	attach     attachFunc
	lineBuffer int
}

// kubernetesBackend controls one attached pod.
type kubernetesBackend struct {
	clientset kubernetes.Interface
	namespace string
	podName   string
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// homeDir returns the user's home directory.
func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE") // Windows
}

// NewKubernetesRuntime creates a new Kubernetes-based runtime.
// Tries in-cluster configuration first, falls back to kubeconfig for local development.
func NewKubernetesRuntime(cfg KubernetesConfig) (*KubernetesRuntime, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		slog.Info("in-cluster config not available, trying kubeconfig", "error", err)
		kubeconfig := filepath.Join(homeDir(), ".kube", "config")
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
		slog.Info("using kubeconfig", "path", kubeconfig)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.DefaultCPULimit == "" {
		cfg.DefaultCPULimit = "500m"
	}
	if cfg.DefaultMemoryLimit == "" {
		cfg.DefaultMemoryLimit = "256Mi"
	}

	return &KubernetesRuntime{
		clientset:  clientset,
		config:     cfg,
		attach:     spdyAttach(config, clientset),
		lineBuffer: DefaultLineBuffer,
	}, nil
}

// spdyAttach attaches to the process container through the pods/attach
// subresource.
func spdyAttach(config *rest.Config, clientset kubernetes.Interface) attachFunc {
	return func(ctx context.Context, namespace, pod string, streams remotecommand.StreamOptions) error {
		req := clientset.CoreV1().RESTClient().Post().
			Resource("pods").
			Name(pod).
			Namespace(namespace).
			SubResource("attach").
			VersionedParams(&corev1.PodAttachOptions{
				Container: containerName,
				Stdin:     streams.Stdin != nil,
				Stdout:    streams.Stdout != nil,
				Stderr:    streams.Stderr != nil,
			}, scheme.ParameterCodec)

		executor, err := remotecommand.NewSPDYExecutor(config, "POST", req.URL())
		if err != nil {
			return fmt.Errorf("failed to create attach executor: %w", err)
		}
		return executor.StreamWithContext(ctx, streams)
	}
}

// Name implements Runtime.
func (k *KubernetesRuntime) Name() string { return "kubernetes" }

// Start implements Runtime.Start by creating a Pod and attaching to it.
func (k *KubernetesRuntime) Start(ctx context.Context, opts StartOptions) (*Process, error) {
	pod, err := k.podSpec(opts)
	if err != nil {
		return nil, &SpawnError{Executable: opts.Executable, Err: err}
	}

	created, err := k.clientset.CoreV1().Pods(k.config.Namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return nil, &SpawnError{Executable: opts.Executable, Err: fmt.Errorf("failed to create pod: %w", err)}
	}
	slog.Info("created pod", "pod", created.Name, "namespace", k.config.Namespace, "name", opts.Name)

	backend := &kubernetesBackend{
		clientset: k.clientset,
		namespace: k.config.Namespace,
		podName:   created.Name,
	}

	if err := backend.waitForContainerReady(ctx); err != nil {
		backend.deletePod()
		return nil, &SpawnError{Executable: opts.Executable, Err: fmt.Errorf("pod %s never started: %w", created.Name, err)}
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	attachCtx, cancel := context.WithCancel(context.Background())
	backend.cancel = cancel
	go func() {
		err := k.attach(attachCtx, k.config.Namespace, created.Name, remotecommand.StreamOptions{
			Stdin:  stdinR,
			Stdout: stdoutW,
			Stderr: stderrW,
		})
		if err != nil && attachCtx.Err() == nil {
			slog.Warn("attach session ended", "pod", created.Name, "error", err)
		}
		stdinR.Close()
		stdoutW.Close()
		stderrW.Close()
	}()

	info := Info{
		ID:        string(created.UID),
		Name:      opts.Name,
		Runtime:   k.Name(),
		StartedAt: time.Now().UTC(),
	}
	if info.ID == "" {
		info.ID = created.Name
	}
	pipes := Pipes{Stdin: stdinW, Stdout: stdoutR, Stderr: stderrR}
	return NewProcess(info, pipes, backend, k.lineBuffer), nil
}

func (k *KubernetesRuntime) podSpec(opts StartOptions) (*corev1.Pod, error) {
	img := opts.Image
	if img == "" {
		img = k.config.DefaultImage
	}
	if img == "" {
		return nil, fmt.Errorf("image is required for the kubernetes runtime")
	}

	var envVars []corev1.EnvVar
	for key, value := range opts.Env {
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: value})
	}

	cpu, err := resource.ParseQuantity(k.config.DefaultCPULimit)
	if err != nil {
		return nil, fmt.Errorf("invalid cpu limit %q: %w", k.config.DefaultCPULimit, err)
	}
	memory, err := resource.ParseQuantity(k.config.DefaultMemoryLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid memory limit %q: %w", k.config.DefaultMemoryLimit, err)
	}

	labels := map[string]string{
		"app.kubernetes.io/managed-by": "procplane",
	}
	if opts.Name != "" {
		labels["procplane/name"] = dnsLabel(opts.Name)
	}

	c := corev1.Container{
		Name:       containerName,
		Image:      img,
		Args:       opts.Args,
		Env:        envVars,
		WorkingDir: opts.Dir,
		Stdin:      true,
		StdinOnce:  false,
		TTY:        false,
		Resources: corev1.ResourceRequirements{
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    cpu,
				corev1.ResourceMemory: memory,
			},
		},
	}
	if opts.Executable != "" {
		c.Command = []string{opts.Executable}
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fmt.Sprintf("procplane-%s-%d", dnsLabel(opts.Name), time.Now().UnixNano()),
			Namespace: k.config.Namespace,
			Labels:    labels,
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers:    []corev1.Container{c},
		},
	}
	if k.config.ServiceAccount != "" {
		pod.Spec.ServiceAccountName = k.config.ServiceAccount
	}
	return pod, nil
}

// dnsLabel lowercases name and replaces anything not valid in a DNS label.
func dnsLabel(name string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, name)
	s = strings.Trim(s, "-")
	if len(s) > 40 {
		s = s[:40]
	}
	if s == "" {
		s = "proc"
	}
	return s
}

// waitForContainerReady waits for the container to start (or complete).
func (b *kubernetesBackend) waitForContainerReady(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		pod, err := b.clientset.CoreV1().Pods(b.namespace).Get(ctx, b.podName, metav1.GetOptions{})
		if err != nil {
			return err
		}
		switch pod.Status.Phase {
		case corev1.PodRunning, corev1.PodSucceeded, corev1.PodFailed:
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Wait blocks until the pod reaches a terminal phase.
func (b *kubernetesBackend) Wait() (ExitStatus, error) {
	ctx := context.Background()
	pods := b.clientset.CoreV1().Pods(b.namespace)

	watcher, err := pods.Watch(ctx, metav1.ListOptions{
		FieldSelector: fmt.Sprintf("metadata.name=%s", b.podName),
	})
	if err != nil {
		return ExitStatus{Code: -1}, err
	}
	defer watcher.Stop()

	// The pod may have finished before the watch was established.
	pod, err := pods.Get(ctx, b.podName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return ExitStatus{Code: -1, Description: "pod deleted"}, nil
	}
	if err != nil {
		return ExitStatus{Code: -1}, err
	}
	if status, done := podExitStatus(pod); done {
		return status, nil
	}

	for event := range watcher.ResultChan() {
		switch event.Type {
		case watch.Error:
			return ExitStatus{Code: -1}, fmt.Errorf("watch error for pod %s", b.podName)
		case watch.Deleted:
			return ExitStatus{Code: -1, Description: "pod deleted"}, nil
		}

		pod, ok := event.Object.(*corev1.Pod)
		if !ok || pod.Name != b.podName {
			continue
		}
		if status, done := podExitStatus(pod); done {
			return status, nil
		}
	}
	return ExitStatus{Code: -1}, fmt.Errorf("watch closed for pod %s", b.podName)
}

func podExitStatus(pod *corev1.Pod) (ExitStatus, bool) {
	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		return ExitStatus{Code: 0}, true
	case corev1.PodFailed:
		status := ExitStatus{Code: -1, Description: pod.Status.Reason}
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.Name == containerName && cs.State.Terminated != nil {
				status.Code = int(cs.State.Terminated.ExitCode)
				if cs.State.Terminated.Reason != "" {
					status.Description = cs.State.Terminated.Reason
				}
			}
		}
		return status, true
	}
	return ExitStatus{}, false
}

// Kill deletes the pod immediately.
func (b *kubernetesBackend) Kill() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grace := int64(0)
	err := b.clientset.CoreV1().Pods(b.namespace).Delete(ctx, b.podName, metav1.DeleteOptions{
		GracePeriodSeconds: &grace,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete pod %s: %w", b.podName, err)
	}
	return nil
}

// Close ends the attach session and makes sure the pod is gone.
func (b *kubernetesBackend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		err = b.deletePod()
	})
	return err
}

func (b *kubernetesBackend) deletePod() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := b.clientset.CoreV1().Pods(b.namespace).Delete(ctx, b.podName, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return nil
}
