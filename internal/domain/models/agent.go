package models

// SourceSpec is one endpoint an agent can read from. Kind selects the payload parser.
type SourceSpec struct {
	Kind string `yaml:"kind" json:"kind" validate:"required"`
	URL  string `yaml:"url" json:"url" validate:"required,url"`
}

// AgentSpec describes a signal producer and its ordered fallback sources.
type AgentSpec struct {
	Name    string       `yaml:"name" json:"name" validate:"required,max=64"`
	Domain  string       `yaml:"domain" json:"domain" default:"finance" validate:"required"`
	Market  string       `yaml:"market" json:"market" validate:"required"`
	Weight  float64      `yaml:"weight" json:"weight" default:"1" validate:"gte=0"`
	Sources []SourceSpec `yaml:"sources" json:"sources" validate:"required,min=1,dive"`
}
