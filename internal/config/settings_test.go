package config

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readSettings(t *testing.T, yml string) (Settings, error) {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yml)))
	return decodeSettings(v)
}

func TestDecodeSettingsFillsMissingKeys(t *testing.T) {
	cfg, err := readSettings(t, `
numbering:
  templates:
    invoice: "I{YY}{MM}-{SEQ5}"
tax:
  strictRates: true
`)
	require.NoError(t, err)

	assert.Equal(t, "I{YY}{MM}-{SEQ5}", cfg.Numbering.Templates[TemplateInvoice])
	assert.Equal(t, "{YYYY}-{MM}-{SEQ3}", cfg.Numbering.Templates[TemplateEstimate])
	assert.Equal(t, 3, cfg.Numbering.MaxAttempts)
	assert.True(t, cfg.Tax.StrictRates)
	assert.Equal(t, "10", cfg.Tax.DefaultRate)
	assert.Equal(t, 30, cfg.Derivation.PurchaseOrderLeadDays)
	assert.Equal(t, "御中", cfg.Derivation.DefaultHonorific)
}

func TestDecodeSettingsRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"no sequence token": "numbering:\n  templates:\n    estimate: \"{YYYY}-{MM}\"\n",
		"unknown token":     "numbering:\n  templates:\n    estimate: \"{YYYY}-{Q}-{SEQ}\"\n",
		"too many attempts": "numbering:\n  maxAttempts: 50\n",
		"bad location":      "numbering:\n  location: Mars/Olympus\n",
	}
	for name, yml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := readSettings(t, yml)
			assert.Error(t, err)
		})
	}
}

func TestStaticSettingsHolder(t *testing.T) {
	s := DefaultSettings()
	s.Numbering.Location = "UTC"
	h := NewStaticSettingsHolder(s)

	assert.Equal(t, "INV-{YYYY}{MM}-{SEQ4}", h.Template(TemplateInvoice))
	assert.Equal(t, "UTC", h.Location().String())
	assert.False(t, h.StrictRates())
}
