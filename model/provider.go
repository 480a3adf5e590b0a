package model

import (
	"encoding/json"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"gorm.io/gorm"

	"github.com/relaymesh/gateway/common/logger"
)

// ProviderKind identifies the wire dialect a Provider speaks upstream.
type ProviderKind int

const (
	ProviderKindOpenAI ProviderKind = iota + 1
	ProviderKindClaude
	ProviderKindGemini
	ProviderKindBedrock
	ProviderKindVertexAI
)

// Provider is a logical upstream (e.g. "anthropic", "azure-openai-eastus"). Tenants never
// address a Provider directly; they address models, and the Candidate Builder resolves which
// Provider/Endpoint pairs can serve a given model.
type Provider struct {
	Id       int            `json:"id" gorm:"primaryKey"`
	Name     string         `json:"name" gorm:"uniqueIndex;size:64"`
	Kind     ProviderKind   `json:"kind"`
	Priority int            `json:"priority" gorm:"default:0;index"`
	// EnableFormatConversion lets the Candidate Builder include this provider for a request
	// whose dialect differs from the provider's native one, routing it through the Format
	// Registry converter instead of requiring an exact dialect match.
	EnableFormatConversion bool           `json:"enable_format_conversion"`
	Enabled                bool           `json:"enabled" gorm:"default:true;index"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
	DeletedAt              gorm.DeletedAt `json:"-" gorm:"index"`
}

// ChannelConfig carries per-endpoint vendor-specific settings that don't fit the common Endpoint
// columns: cloud credentials, API versioning, and dialect-compatibility hints.
type ChannelConfig struct {
	Region            string `json:"region,omitempty"`
	SK                string `json:"sk,omitempty"`
	AK                string `json:"ak,omitempty"`
	UserID            string `json:"user_id,omitempty"`
	APIVersion        string `json:"api_version,omitempty"`
	LibraryID         string `json:"library_id,omitempty"`
	Plugin            string `json:"plugin,omitempty"`
	VertexAIProjectID string `json:"vertex_ai_project_id,omitempty"`
	VertexAIADC       string `json:"vertex_ai_adc,omitempty"`
	AuthType          string `json:"auth_type,omitempty"`
	APIFormat         string `json:"api_format,omitempty"`
}

// Endpoint is a concrete deployment of a Provider the Pool Manager can dispatch to: a base URL,
// its own rate/cost limits, and the credentials needed to reach it. A Provider commonly has many
// Endpoints (e.g. several Azure OpenAI regions) to spread load and provide failover diversity.
type Endpoint struct {
	Id           int            `json:"id" gorm:"primaryKey"`
	ProviderId   int            `json:"provider_id" gorm:"index"`
	Name         string         `json:"name" gorm:"size:128"`
	BaseURL      string         `json:"base_url" gorm:"size:512"`
	Enabled      bool           `json:"enabled" gorm:"default:true;index"`
	Priority     int            `json:"priority" gorm:"default:0"`
	Weight       int            `json:"weight" gorm:"default:1"`
	RateLimitRPM int            `json:"rate_limit_rpm"`
	ModelMapping string         `json:"model_mapping" gorm:"type:text"`
	SystemPrompt string         `json:"system_prompt" gorm:"type:text"`
	ChannelRatio float64        `json:"channel_ratio" gorm:"default:1"`
	Config       string         `json:"config" gorm:"type:text"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}

// LoadConfig unmarshals the endpoint's vendor-specific configuration blob.
func (e *Endpoint) LoadConfig() (ChannelConfig, error) {
	var cfg ChannelConfig
	if e.Config == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(e.Config), &cfg); err != nil {
		return cfg, errors.Wrapf(err, "unmarshal endpoint %d config", e.Id)
	}
	return cfg, nil
}

// GetModelMapping decodes the logical-to-provider model name mapping table.
func (e *Endpoint) GetModelMapping() map[string]string {
	if e.ModelMapping == "" || e.ModelMapping == "{}" {
		return nil
	}
	mapping := make(map[string]string)
	if err := json.Unmarshal([]byte(e.ModelMapping), &mapping); err != nil {
		logger.Logger.Error("failed to unmarshal endpoint model mapping",
			zap.Int("endpoint_id", e.Id), zap.Error(err))
		return nil
	}
	return mapping
}
