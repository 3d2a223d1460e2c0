// Package predict proxies drought-risk predictions to the external scoring
// service. It is the protected resource of the gateway: only sessions that
// completed TOTP verification may call it.
package predict

// Risk levels the scoring model emits.
const (
	RiskLow      = "low"
	RiskModerate = "moderate"
	RiskHigh     = "high"
)

// validRisk reports whether level is one of the known risk levels.
func validRisk(level string) bool {
	switch level {
	case RiskLow, RiskModerate, RiskHigh:
		return true
	}
	return false
}

// PredictRequest is the body of POST /api/predict. Pointers distinguish a
// missing field from an explicit zero.
type PredictRequest struct {
	WaterLevel  *float64 `json:"water_level"`
	Rainfall    *float64 `json:"rainfall"`
	Temperature *float64 `json:"temperature"`
}

// Features are the validated model inputs.
type Features struct {
	WaterLevel  float64 `json:"water_level"`
	Rainfall    float64 `json:"rainfall"`
	Temperature float64 `json:"temperature"`
}

// Prediction is the scoring service's answer.
type Prediction struct {
	DroughtRisk string `json:"drought_risk"`
}
