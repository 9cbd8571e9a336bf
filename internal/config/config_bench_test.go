package config

import (
	"testing"

	"github.com/lamim/examforge/pkg/models"
)

func BenchmarkParse(b *testing.B) {
	data := []byte(testConfigTOML)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Parse(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkValidateAll(b *testing.B) {
	cfg := validConfig()
	for i := 0; i < b.N; i++ {
		if err := cfg.Validate(); err != nil {
			b.Fatal(err)
		}
		if err := cfg.ValidateInputs(); err != nil {
			b.Fatal(err)
		}
	}
}

// ScoringFor sits on the per-item path of a generation run
func BenchmarkScoringFor(b *testing.B) {
	cfg, err := Parse([]byte(testConfigTOML))
	if err != nil {
		b.Fatal(err)
	}
	types := []models.ItemType{models.ItemSingleSelect, models.ItemMultiSelect, models.ItemNumeric}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cfg.ScoringFor(types[i%len(types)])
	}
}
