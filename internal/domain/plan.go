package domain

// Plan — декомпозиция запроса на узлы.
//
// Plan строится Planner'ом (статически или агентом-планировщиком)
// и превращается в граф через engine.BuildGraph.
type Plan struct {
	// Name — имя шаблона плана (если план взят из конфигурации).
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Nodes — узлы в порядке вставки.
	Nodes []TaskNode `json:"nodes" yaml:"nodes"`
}

// Artifact — итог стадии синтеза.
type Artifact struct {
	// Text — связный текст итогового ответа.
	Text string `json:"text"`

	// Sections — разделы по сущностям.
	Sections []Section `json:"sections,omitempty"`

	// Data — структурированные данные синтеза.
	Data map[string]any `json:"data,omitempty"`
}

// Section — раздел артефакта, посвящённый одной сущности.
type Section struct {
	EntityID  string   `json:"entity_id"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Sources   []string `json:"sources,omitempty"`
	Agreement float64  `json:"agreement"`
	Degraded  bool     `json:"degraded,omitempty"`
}
