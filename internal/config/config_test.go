package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
	}{
		{
			name:    "default config",
			envVars: map[string]string{},
			wantErr: false,
		},
		{
			name: "custom config",
			envVars: map[string]string{
				"SERVICE_NAME":       "test-service",
				"LISTEN_PORT":        "9000",
				"TARGET_ACTIVE_JOBS": "5",
				"JOB_SIZE_TIERS":     "4,8",
				"STORAGE_BACKEND":    "redis",
			},
			wantErr: false,
		},
		{
			name: "invalid port",
			envVars: map[string]string{
				"LISTEN_PORT": "99999",
			},
			wantErr: true,
		},
		{
			name: "invalid storage backend",
			envVars: map[string]string{
				"STORAGE_BACKEND": "sqlite",
			},
			wantErr: true,
		},
		{
			name: "invalid solo difficulty",
			envVars: map[string]string{
				"SOLO_DIFFICULTY": "40",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				if err := os.Setenv(key, value); err != nil {
					t.Fatalf("failed to set environment variable %s: %v", key, err)
				}
			}
			defer func() {
				for key := range tt.envVars {
					if err := os.Unsetenv(key); err != nil {
						t.Logf("failed to unset environment variable %s: %v", key, err)
					}
				}
			}()

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				if cfg.ServiceName == "" {
					t.Error("ServiceName should not be empty")
				}
				if cfg.TargetActiveJobs <= 0 {
					t.Error("TargetActiveJobs should be positive")
				}
			}
		})
	}
}

func TestRewardPerUnit(t *testing.T) {
	cfg := &Config{BaseUnitRate: 0.003, ReferenceJobSize: 16}

	tests := []struct {
		size int
		want float64
	}{
		{16, 0.003},
		{8, 0.0015},
		{32, 0.006},
	}

	for _, tt := range tests {
		if got := cfg.RewardPerUnit(tt.size); got != tt.want {
			t.Errorf("RewardPerUnit(%d) = %v, want %v", tt.size, got, tt.want)
		}
	}
}

func TestBonusFor(t *testing.T) {
	cfg := &Config{BonusTiers: map[int]float64{8: 0.005, 16: 0.01, 32: 0.02}}

	tests := []struct {
		size int
		want float64
	}{
		{8, 0.005},
		{16, 0.01},
		{32, 0.02},
		{20, 0.01}, // rounds down to the 16 tier
		{4, 0},     // below the smallest tier
	}

	for _, tt := range tests {
		if got := cfg.BonusFor(tt.size); got != tt.want {
			t.Errorf("BonusFor(%d) = %v, want %v", tt.size, got, tt.want)
		}
	}
}
