package agent

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Типы транспортов в конфигурации.
const (
	TransportA2A  = "a2a"
	TransportHTTP = "http"
)

// AgentRef — разрешённая ссылка на агента.
type AgentRef struct {
	// Name — логическое имя агента.
	Name string `json:"name"`

	// Description — назначение агента.
	Description string `json:"description,omitempty"`

	// Kind — тип транспорта (a2a, http, func).
	Kind string `json:"kind"`

	// Endpoint — URL или путь к agent card.
	Endpoint string `json:"endpoint,omitempty"`

	// Fallback — payload по умолчанию, если агент не ответил.
	Fallback map[string]any `json:"fallback,omitempty"`

	// Transport — транспорт до агента.
	Transport Transport `json:"-"`
}

// Spec — описание агента в конфигурации.
type Spec struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Transport   string            `yaml:"transport"` // a2a | http
	URL         string            `yaml:"url"`
	Card        string            `yaml:"card"` // URL или путь к agent card (только a2a)
	Headers     map[string]string `yaml:"headers"`
	Fallback    map[string]any    `yaml:"fallback"`
}

// Registry — реестр агентов по логическому имени.
//
// Строится один раз при старте. После этого только читается,
// Register из нескольких горутин защищён мьютексом.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]AgentRef
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]AgentRef)}
}

// BuildRegistry создаёт реестр из конфигурации.
// connectTimeout ограничивает установку соединения HTTP транспортов.
func BuildRegistry(specs []Spec, connectTimeout time.Duration) (*Registry, error) {
	r := NewRegistry()

	for _, spec := range specs {
		ref, err := refFromSpec(spec, connectTimeout)
		if err != nil {
			return nil, err
		}
		if err := r.Register(ref); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func refFromSpec(spec Spec, connectTimeout time.Duration) (AgentRef, error) {
	if spec.Name == "" {
		return AgentRef{}, fmt.Errorf("%w: empty name", ErrInvalidAgent)
	}

	ref := AgentRef{
		Name:        spec.Name,
		Description: spec.Description,
		Kind:        spec.Transport,
		Endpoint:    spec.URL,
		Fallback:    spec.Fallback,
	}

	switch spec.Transport {
	case TransportHTTP:
		if spec.URL == "" {
			return AgentRef{}, fmt.Errorf("%w: agent %s: url is required", ErrInvalidAgent, spec.Name)
		}
		ref.Transport = NewHTTPTransport(spec.URL, spec.Headers, connectTimeout)

	case TransportA2A, "":
		ref.Kind = TransportA2A
		source := spec.Card
		if source == "" {
			source = spec.URL
		}
		if source == "" {
			return AgentRef{}, fmt.Errorf("%w: agent %s: url or card is required", ErrInvalidAgent, spec.Name)
		}
		ref.Endpoint = source
		ref.Transport = NewA2ATransport(spec.Name, source)

	default:
		return AgentRef{}, fmt.Errorf("%w: agent %s: unknown transport %q", ErrInvalidAgent, spec.Name, spec.Transport)
	}

	return ref, nil
}

// Register добавляет агента. Повторное имя — ошибка.
func (r *Registry) Register(ref AgentRef) error {
	if ref.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidAgent)
	}
	if ref.Transport == nil {
		return fmt.Errorf("%w: agent %s has no transport", ErrInvalidAgent, ref.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[ref.Name]; exists {
		return fmt.Errorf("%w: duplicate agent %s", ErrInvalidAgent, ref.Name)
	}
	r.agents[ref.Name] = ref
	return nil
}

// Resolve возвращает агента по имени.
func (r *Registry) Resolve(name string) (AgentRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, ok := r.agents[name]
	if !ok {
		return AgentRef{}, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return ref, nil
}

// List возвращает агентов, отсортированных по имени.
func (r *Registry) List() []AgentRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := make([]AgentRef, 0, len(r.agents))
	for _, ref := range r.agents {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs
}

// Len возвращает количество агентов.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
