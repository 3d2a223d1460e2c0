package predict

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/keyxmakerx/naturerisk/internal/apperror"
)

// PredictService validates features and asks the scorer for a risk level.
type PredictService interface {
	Predict(ctx context.Context, userID string, req PredictRequest) (*Prediction, error)
}

type predictService struct {
	scorer Scorer
}

// NewPredictService creates a prediction service backed by scorer.
func NewPredictService(scorer Scorer) PredictService {
	return &predictService{scorer: scorer}
}

// Predict rejects missing or non-finite inputs with 400 and turns every
// upstream failure, including an unknown risk label, into 502.
func (s *predictService) Predict(ctx context.Context, userID string, req PredictRequest) (*Prediction, error) {
	if req.WaterLevel == nil || req.Rainfall == nil || req.Temperature == nil {
		return nil, apperror.NewBadRequest("water_level, rainfall, and temperature are required")
	}
	f := Features{
		WaterLevel:  *req.WaterLevel,
		Rainfall:    *req.Rainfall,
		Temperature: *req.Temperature,
	}
	for _, v := range []float64{f.WaterLevel, f.Rainfall, f.Temperature} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, apperror.NewBadRequest("inputs must be finite numbers")
		}
	}

	p, err := s.scorer.Score(ctx, f)
	if err != nil {
		slog.Error("drought scoring failed",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return nil, apperror.NewUpstreamUnavailable(err)
	}
	if !validRisk(p.DroughtRisk) {
		err := fmt.Errorf("unexpected drought_risk %q", p.DroughtRisk)
		slog.Error("drought scoring returned unknown level",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return nil, apperror.NewUpstreamUnavailable(err)
	}

	slog.Debug("drought risk predicted",
		slog.String("user_id", userID),
		slog.String("drought_risk", p.DroughtRisk),
	)
	return p, nil
}
