package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	numberformat "github.com/smallbiznis/docflow/internal/sequence/format"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Number template keys. The "from_estimate" keys cover the derivation path,
// which historically used a prefixed four-digit format.
const (
	TemplateEstimate                  = "estimate"
	TemplatePurchaseOrder             = "purchase_order"
	TemplatePurchaseOrderFromEstimate = "purchase_order_from_estimate"
	TemplateOrderConfirmation         = "order_confirmation"
	TemplateDeliveryNote              = "delivery_note"
	TemplateInvoice                   = "invoice"
	TemplateInvoiceFromEstimate       = "invoice_from_estimate"
)

// Settings are the hot-reloadable numbering and tax defaults.
type Settings struct {
	Numbering  NumberingSettings  `mapstructure:"numbering"`
	Tax        TaxSettings        `mapstructure:"tax"`
	Derivation DerivationSettings `mapstructure:"derivation"`
}

type NumberingSettings struct {
	Templates   map[string]string `mapstructure:"templates"`
	MaxAttempts int               `mapstructure:"maxattempts"`
	Location    string            `mapstructure:"location"`
}

type TaxSettings struct {
	DefaultRate     string `mapstructure:"defaultrate"`
	DefaultTaxType  string `mapstructure:"defaulttaxtype"`
	DefaultRounding string `mapstructure:"defaultrounding"`
	StrictRates     bool   `mapstructure:"strictrates"`
}

type DerivationSettings struct {
	PurchaseOrderLeadDays int    `mapstructure:"purchaseorderleaddays"`
	EstimateValidDays     int    `mapstructure:"estimatevaliddays"`
	DefaultHonorific      string `mapstructure:"defaulthonorific"`
}

// DefaultSettings reproduces the legacy number formats and tax behaviour.
func DefaultSettings() Settings {
	return Settings{
		Numbering: NumberingSettings{
			Templates: map[string]string{
				TemplateEstimate:                  "{YYYY}-{MM}-{SEQ3}",
				TemplatePurchaseOrder:             "{YYYY}-{MM}-{SEQ3}",
				TemplatePurchaseOrderFromEstimate: "PO-{YYYY}{MM}-{SEQ4}",
				TemplateOrderConfirmation:         "{YYYY}-{MM}-{SEQ3}",
				TemplateDeliveryNote:              "{YYYY}-{MM}-{SEQ3}",
				TemplateInvoice:                   "INV-{YYYY}{MM}-{SEQ4}",
				TemplateInvoiceFromEstimate:       "INV-{YYYY}{MM}-{SEQ4}",
			},
			MaxAttempts: 3,
			Location:    "Local",
		},
		Tax: TaxSettings{
			DefaultRate:     "10",
			DefaultTaxType:  "exclusive",
			DefaultRounding: "floor",
			StrictRates:     false,
		},
		Derivation: DerivationSettings{
			PurchaseOrderLeadDays: 30,
			EstimateValidDays:     30,
			DefaultHonorific:      "御中",
		},
	}
}

// SettingsHolder serves the current Settings and swaps them on file change.
type SettingsHolder struct {
	current atomic.Value // holds Settings
}

// NewStaticSettingsHolder returns a holder that never reloads.
func NewStaticSettingsHolder(s Settings) *SettingsHolder {
	h := &SettingsHolder{}
	h.current.Store(withDefaults(s))
	return h
}

// NewSettingsHolder reads numbering.yml, falling back to defaults when the file is absent.
func NewSettingsHolder(log *zap.Logger) (*SettingsHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.settings")

	v := viper.New()
	v.SetConfigName("numbering")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/docflow")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DOCFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSettings()
	v.SetDefault("numbering.maxAttempts", defaults.Numbering.MaxAttempts)
	v.SetDefault("numbering.location", defaults.Numbering.Location)
	v.SetDefault("tax.defaultRate", defaults.Tax.DefaultRate)
	v.SetDefault("tax.defaultTaxType", defaults.Tax.DefaultTaxType)
	v.SetDefault("tax.defaultRounding", defaults.Tax.DefaultRounding)
	v.SetDefault("tax.strictRates", defaults.Tax.StrictRates)
	v.SetDefault("derivation.purchaseOrderLeadDays", defaults.Derivation.PurchaseOrderLeadDays)
	v.SetDefault("derivation.estimateValidDays", defaults.Derivation.EstimateValidDays)
	v.SetDefault("derivation.defaultHonorific", defaults.Derivation.DefaultHonorific)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	cfg, err := decodeSettings(v)
	if err != nil {
		return nil, err
	}

	holder := &SettingsHolder{}
	holder.current.Store(cfg)

	if fileLoaded {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeSettings(v)
			if err != nil {
				log.Warn("settings reload ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("settings reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *SettingsHolder) Get() Settings {
	return h.current.Load().(Settings)
}

// Template returns the number template for key.
func (h *SettingsHolder) Template(key string) string {
	return h.Get().Numbering.Templates[key]
}

// StrictRates reports whether taxable items outside 8/10% are rejected.
func (h *SettingsHolder) StrictRates() bool {
	return h.Get().Tax.StrictRates
}

// Location returns the zone used to derive year-month keys.
func (h *SettingsHolder) Location() *time.Location {
	loc, err := time.LoadLocation(h.Get().Numbering.Location)
	if err != nil {
		return time.Local
	}
	return loc
}

func decodeSettings(v *viper.Viper) (Settings, error) {
	var cfg Settings
	if err := v.Unmarshal(&cfg); err != nil {
		return Settings{}, err
	}
	cfg = withDefaults(cfg)
	if err := validateSettings(cfg); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// withDefaults fills template keys missing from a partial file.
func withDefaults(cfg Settings) Settings {
	defaults := DefaultSettings()
	templates := make(map[string]string, len(defaults.Numbering.Templates))
	for key, tpl := range defaults.Numbering.Templates {
		templates[key] = tpl
	}
	for key, tpl := range cfg.Numbering.Templates {
		if strings.TrimSpace(tpl) != "" {
			templates[strings.ToLower(key)] = strings.TrimSpace(tpl)
		}
	}
	cfg.Numbering.Templates = templates
	if cfg.Numbering.MaxAttempts <= 0 {
		cfg.Numbering.MaxAttempts = defaults.Numbering.MaxAttempts
	}
	if strings.TrimSpace(cfg.Numbering.Location) == "" {
		cfg.Numbering.Location = defaults.Numbering.Location
	}
	if strings.TrimSpace(cfg.Tax.DefaultRate) == "" {
		cfg.Tax.DefaultRate = defaults.Tax.DefaultRate
	}
	if strings.TrimSpace(cfg.Tax.DefaultTaxType) == "" {
		cfg.Tax.DefaultTaxType = defaults.Tax.DefaultTaxType
	}
	if strings.TrimSpace(cfg.Tax.DefaultRounding) == "" {
		cfg.Tax.DefaultRounding = defaults.Tax.DefaultRounding
	}
	if cfg.Derivation.PurchaseOrderLeadDays <= 0 {
		cfg.Derivation.PurchaseOrderLeadDays = defaults.Derivation.PurchaseOrderLeadDays
	}
	if cfg.Derivation.EstimateValidDays <= 0 {
		cfg.Derivation.EstimateValidDays = defaults.Derivation.EstimateValidDays
	}
	if strings.TrimSpace(cfg.Derivation.DefaultHonorific) == "" {
		cfg.Derivation.DefaultHonorific = defaults.Derivation.DefaultHonorific
	}
	return cfg
}

func validateSettings(cfg Settings) error {
	for key, tpl := range cfg.Numbering.Templates {
		if err := numberformat.Validate(tpl); err != nil {
			return fmt.Errorf("numbering.templates.%s: %w", key, err)
		}
	}
	if cfg.Numbering.MaxAttempts > 10 {
		return errors.New("numbering.maxAttempts must be at most 10")
	}
	if _, err := time.LoadLocation(cfg.Numbering.Location); err != nil {
		return fmt.Errorf("numbering.location: %w", err)
	}
	return nil
}
