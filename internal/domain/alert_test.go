package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAlertInCooldown(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		alert Alert
		want  bool
	}{
		{
			name: "never fired",
			alert: Alert{
				Type:    AlertTypeLatency,
				Latency: &LatencyAlertDetails{Cooldown: time.Hour},
			},
			want: false,
		},
		{
			name: "fired within cooldown",
			alert: Alert{
				Type:        AlertTypeLatency,
				Latency:     &LatencyAlertDetails{Cooldown: time.Hour},
				LastFiredAt: now.Add(-30 * time.Minute),
			},
			want: true,
		},
		{
			name: "fired before cooldown window",
			alert: Alert{
				Type:        AlertTypeLatency,
				Latency:     &LatencyAlertDetails{Cooldown: time.Hour},
				LastFiredAt: now.Add(-2 * time.Hour),
			},
			want: false,
		},
		{
			name: "zero cooldown never suppresses",
			alert: Alert{
				Type:        AlertTypeLatency,
				Latency:     &LatencyAlertDetails{},
				LastFiredAt: now.Add(-time.Minute),
			},
			want: false,
		},
		{
			name: "eval-set alerts never cool down",
			alert: Alert{
				Type:        AlertTypeEvalSet,
				EvalSet:     &EvalSetAlertDetails{},
				LastFiredAt: now.Add(-time.Minute),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.alert.InCooldown(now))
		})
	}
}
