// Package candidate implements the Candidate Builder: given a tenant and a resolved global
// model, it enumerates every (provider, endpoint, key) triple able to serve the request and
// hands them, unsorted, to the Scheduler, which orders them.
package candidate

import (
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"

	"github.com/relaymesh/gateway/model"
)

// Candidate is one provider/endpoint/key triple the Executor may try. Skipped candidates are
// retained with a SkipReason instead of being dropped, so callers can report why a provider was
// passed over.
type Candidate struct {
	Provider          model.Provider
	Endpoint          model.Endpoint
	Key               model.Key
	ProviderModelName string
	SkipReason        string
}

// AccessPolicy scopes which providers/endpoints a tenant may be routed to, and which
// capabilities the request itself requires. Per §9's Open Question decision, a nil list means
// "all", a non-nil empty list means "none" — so every Allowed* field must be consulted with
// allowsID, never a plain `len(list) == 0` check.
type AccessPolicy struct {
	AllowedProviders []int
	AllowedEndpoints []int
	// RequiredCapabilities filters out keys that don't carry every listed tag (e.g. "vision").
	RequiredCapabilities []string
}

func allowsID(allowed []int, id int) bool {
	if allowed == nil {
		return true
	}
	for _, a := range allowed {
		if a == id {
			return true
		}
	}
	return false
}

// Build enumerates candidates for globalModelName, filtered by policy's access scope and
// capability requirement. The result follows the order in which Model rows and keys load from
// the database; Build does not sort by priority. Candidates for a disabled provider/endpoint,
// a disabled Model mapping, or one the policy excludes, are included with SkipReason set rather
// than omitted. Enumeration starts from the Model rows for globalModelName, so a provider with
// no Model row for it yields no candidate at all, not a skipped one. A nil policy behaves as
// AllowedProviders/AllowedEndpoints=all, RequiredCapabilities=none.
func Build(db *gorm.DB, globalModelName string, policy *AccessPolicy) ([]Candidate, error) {
	if policy == nil {
		policy = &AccessPolicy{}
	}
	var models []model.Model
	if err := db.Where("global_model_name = ?", globalModelName).Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "load model mappings")
	}

	candidates := make([]Candidate, 0, len(models))
	for _, m := range models {
		var endpoint model.Endpoint
		if err := db.First(&endpoint, m.EndpointId).Error; err != nil {
			candidates = append(candidates, Candidate{
				ProviderModelName: m.ProviderModelName,
				SkipReason:        "endpoint not found",
			})
			continue
		}

		var provider model.Provider
		if err := db.First(&provider, endpoint.ProviderId).Error; err != nil {
			candidates = append(candidates, Candidate{
				Endpoint:          endpoint,
				ProviderModelName: m.ProviderModelName,
				SkipReason:        "provider not found",
			})
			continue
		}

		if !allowsID(policy.AllowedProviders, provider.Id) {
			candidates = append(candidates, Candidate{
				Provider: provider, Endpoint: endpoint, ProviderModelName: m.ProviderModelName,
				SkipReason: "provider not in access policy",
			})
			continue
		}
		if !allowsID(policy.AllowedEndpoints, endpoint.Id) {
			candidates = append(candidates, Candidate{
				Provider: provider, Endpoint: endpoint, ProviderModelName: m.ProviderModelName,
				SkipReason: "endpoint not in access policy",
			})
			continue
		}

		if !provider.Enabled {
			candidates = append(candidates, Candidate{
				Provider: provider, Endpoint: endpoint, ProviderModelName: m.ProviderModelName,
				SkipReason: "provider disabled",
			})
			continue
		}
		if !endpoint.Enabled {
			candidates = append(candidates, Candidate{
				Provider: provider, Endpoint: endpoint, ProviderModelName: m.ProviderModelName,
				SkipReason: "endpoint disabled",
			})
			continue
		}
		if !m.Enabled {
			candidates = append(candidates, Candidate{
				Provider: provider, Endpoint: endpoint, ProviderModelName: m.ProviderModelName,
				SkipReason: "provider does not implement this model",
			})
			continue
		}

		var keys []model.Key
		if err := db.Where("endpoint_id = ?", endpoint.Id).Find(&keys).Error; err != nil {
			return nil, errors.Wrapf(err, "load keys for endpoint %d", endpoint.Id)
		}
		if len(keys) == 0 {
			candidates = append(candidates, Candidate{
				Provider: provider, Endpoint: endpoint, ProviderModelName: m.ProviderModelName,
				SkipReason: "endpoint has no keys",
			})
			continue
		}

		now := time.Now()
		for _, key := range keys {
			c := Candidate{
				Provider: provider, Endpoint: endpoint, Key: key,
				ProviderModelName: m.ProviderModelName,
			}
			switch {
			case !key.IsSchedulable(now):
				c.SkipReason = "key not schedulable"
			case !key.HasCapabilities(policy.RequiredCapabilities):
				c.SkipReason = "key missing required capability"
			}
			candidates = append(candidates, c)
		}
	}

	return candidates, nil
}

// Usable filters out skipped candidates, preserving order.
func Usable(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.SkipReason == "" {
			out = append(out, c)
		}
	}
	return out
}
