package candidate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/relaymesh/gateway/model"
)

// setupCandidateTestDB gives each test its own named in-memory database (rather than the shared
// anonymous one) so tests that persist Provider/Endpoint/Key rows with the same IDs don't race a
// primary-key collision against a sibling test's still-open connection.
func setupCandidateTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Provider{}, &model.Endpoint{}, &model.Key{}, &model.Model{}))
	return db
}

func seedOneProviderTwoKeys(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&model.Provider{Id: 1, Name: "anthropic", Kind: model.ProviderKindClaude, Priority: 10, Enabled: true}).Error)
	require.NoError(t, db.Create(&model.Endpoint{Id: 1, ProviderId: 1, Name: "primary", BaseURL: "https://api.anthropic.example", Enabled: true}).Error)
	require.NoError(t, db.Create(&model.Model{Id: 1, EndpointId: 1, GlobalModelName: "claude-3", ProviderModelName: "claude-3-opus", Enabled: true}).Error)
	require.NoError(t, db.Create(&model.Key{Id: 1, EndpointId: 1, Name: "k1", Status: model.KeyStatusEnabled, Priority: 10}).Error)
	require.NoError(t, db.Create(&model.Key{Id: 2, EndpointId: 1, Name: "k2", Status: model.KeyStatusEnabled, Priority: 5}).Error)
}

func TestBuildEnumeratesOneCandidatePerKey(t *testing.T) {
	db := setupCandidateTestDB(t)
	seedOneProviderTwoKeys(t, db)

	candidates, err := Build(db, "claude-3", nil)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	for _, c := range candidates {
		require.Empty(t, c.SkipReason)
		require.Equal(t, "claude-3-opus", c.ProviderModelName)
	}
}

func TestBuildSkipsUnknownModel(t *testing.T) {
	db := setupCandidateTestDB(t)
	seedOneProviderTwoKeys(t, db)

	candidates, err := Build(db, "gpt-4o", nil)
	require.NoError(t, err)
	require.Empty(t, candidates)
}

func TestBuildSkipsDisabledProvider(t *testing.T) {
	db := setupCandidateTestDB(t)
	seedOneProviderTwoKeys(t, db)
	require.NoError(t, db.Model(&model.Provider{}).Where("id = ?", 1).Update("enabled", false).Error)

	candidates, err := Build(db, "claude-3", nil)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	for _, c := range candidates {
		require.Equal(t, "provider disabled", c.SkipReason)
	}
	require.Empty(t, Usable(candidates))
}

func TestBuildSkipsKeyInCooldown(t *testing.T) {
	db := setupCandidateTestDB(t)
	seedOneProviderTwoKeys(t, db)
	require.NoError(t, db.Model(&model.Key{}).Where("id = ?", 1).Update("cooldown_until", time.Now().Add(time.Hour)).Error)

	candidates, err := Build(db, "claude-3", nil)
	require.NoError(t, err)
	usable := Usable(candidates)
	require.Len(t, usable, 1)
	require.Equal(t, 2, usable[0].Key.Id)
}

func TestBuildAccessPolicyEmptyAllowedMeansNone(t *testing.T) {
	db := setupCandidateTestDB(t)
	seedOneProviderTwoKeys(t, db)

	candidates, err := Build(db, "claude-3", &AccessPolicy{AllowedProviders: []int{}})
	require.NoError(t, err)
	for _, c := range candidates {
		require.Equal(t, "provider not in access policy", c.SkipReason)
	}
}

func TestBuildAccessPolicyNilAllowedMeansAll(t *testing.T) {
	db := setupCandidateTestDB(t)
	seedOneProviderTwoKeys(t, db)

	candidates, err := Build(db, "claude-3", &AccessPolicy{AllowedProviders: nil})
	require.NoError(t, err)
	require.Len(t, Usable(candidates), 2)
}

func TestBuildRequiredCapabilityFiltersKeys(t *testing.T) {
	db := setupCandidateTestDB(t)
	seedOneProviderTwoKeys(t, db)
	require.NoError(t, db.Model(&model.Key{}).Where("id = ?", 1).Update("capabilities", "vision,tools").Error)

	candidates, err := Build(db, "claude-3", &AccessPolicy{RequiredCapabilities: []string{"vision"}})
	require.NoError(t, err)
	usable := Usable(candidates)
	require.Len(t, usable, 1)
	require.Equal(t, 1, usable[0].Key.Id)
}
