package runtime

import "fmt"

// Settings selects and configures a backend.
type Settings struct {
	// Kind is "exec", "docker" or "kubernetes".
	Kind       string
	WorkDir    string
	Image      string
	LineBuffer int
	Kubernetes KubernetesConfig
}

// New builds the backend named by s.Kind.
func New(s Settings) (Runtime, error) {
	lineBuffer := s.LineBuffer
	if lineBuffer <= 0 {
		lineBuffer = DefaultLineBuffer
	}

	switch s.Kind {
	case "", "exec":
		rt := NewExecRuntime(s.WorkDir)
		rt.LineBuffer = lineBuffer
		return rt, nil
	case "docker":
		rt, err := NewDockerRuntime(s.Image)
		if err != nil {
			return nil, fmt.Errorf("docker runtime: %w", err)
		}
		rt.lineBuffer = lineBuffer
		return rt, nil
	case "kubernetes":
		cfg := s.Kubernetes
		if cfg.DefaultImage == "" {
			cfg.DefaultImage = s.Image
		}
		rt, err := NewKubernetesRuntime(cfg)
		if err != nil {
			return nil, fmt.Errorf("kubernetes runtime: %w", err)
		}
		rt.lineBuffer = lineBuffer
		return rt, nil
	default:
		return nil, fmt.Errorf("unknown runtime %q", s.Kind)
	}
}
