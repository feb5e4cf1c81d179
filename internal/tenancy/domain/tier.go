package domain

import "fmt"

// Subscription tiers
const (
	TierStarter      = "starter"
	TierProfessional = "professional"
	TierEnterprise   = "enterprise"
)

// UnlimitedEntities is the sentinel bypassing the entity limit check
const UnlimitedEntities = -1

// Feature flags
const (
	FeatureAIForecasting      = "ai_forecasting"
	FeatureWhatIf             = "what_if"
	FeatureAdvancedReports    = "advanced_reports"
	FeatureCustomIntegrations = "custom_integrations"
)

// TierSpec holds the fixed limits and feature flags for a tier
type TierSpec struct {
	MaxUsers    int
	MaxEntities int
	Features    FeatureSet
}

var tierTable = map[string]TierSpec{
	TierStarter: {
		MaxUsers:    5,
		MaxEntities: 500,
		Features: FeatureSet{
			FeatureAIForecasting:      false,
			FeatureWhatIf:             false,
			FeatureAdvancedReports:    false,
			FeatureCustomIntegrations: false,
		},
	},
	TierProfessional: {
		MaxUsers:    25,
		MaxEntities: 5000,
		Features: FeatureSet{
			FeatureAIForecasting:      true,
			FeatureWhatIf:             true,
			FeatureAdvancedReports:    false,
			FeatureCustomIntegrations: false,
		},
	},
	TierEnterprise: {
		MaxUsers:    100,
		MaxEntities: UnlimitedEntities,
		Features: FeatureSet{
			FeatureAIForecasting:      true,
			FeatureWhatIf:             true,
			FeatureAdvancedReports:    true,
			FeatureCustomIntegrations: true,
		},
	},
}

// TierLimits returns the limits and features for a tier. Unknown tiers are
// rejected.
func TierLimits(tier string) (TierSpec, error) {
	spec, ok := tierTable[tier]
	if !ok {
		return TierSpec{}, fmt.Errorf("unknown subscription tier %q", tier)
	}
	// Copy the feature map so callers cannot mutate the table.
	features := make(FeatureSet, len(spec.Features))
	for k, v := range spec.Features {
		features[k] = v
	}
	spec.Features = features
	return spec, nil
}

// FeatureMinTier returns the lowest tier that enables the given feature.
// Used to name the required tier in feature-gate errors.
func FeatureMinTier(feature string) string {
	for _, tier := range []string{TierStarter, TierProfessional, TierEnterprise} {
		if tierTable[tier].Features[feature] {
			return tier
		}
	}
	return TierEnterprise
}
