package repo

import (
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	RepoRoot string `mapstructure:"-" toml:"-"`

	// DialUrl is the chain endpoint the adapters bind to; ignored when
	// MockBackend is set
	DialUrl     string `mapstructure:"dial_url" toml:"dial_url"`
	MockBackend bool   `mapstructure:"mock_backend" toml:"mock_backend"`
	APIAddr     string `mapstructure:"api_addr" toml:"api_addr"`

	Log       Log       `mapstructure:"log" toml:"log"`
	Campaign  Campaign  `mapstructure:"campaign" toml:"campaign"`
	Contracts Contracts `mapstructure:"contracts" toml:"contracts"`
}

type Log struct {
	Level        string        `mapstructure:"level" toml:"level"`
	Filename     string        `mapstructure:"filename" toml:"filename"`
	ReportCaller bool          `mapstructure:"report_caller" toml:"report_caller"`
	MaxAge       time.Duration `mapstructure:"max_age" toml:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time" toml:"rotation_time"`
}

type Campaign struct {
	Owner          string `mapstructure:"owner" toml:"owner"`
	PlatformWallet string `mapstructure:"platform_wallet" toml:"platform_wallet"`
	DonationToken  string `mapstructure:"donation_token" toml:"donation_token"`
	Custody        string `mapstructure:"custody" toml:"custody"`

	// Strategy is "immediate" or "streaming"
	Strategy string `mapstructure:"strategy" toml:"strategy"`

	FeeBps             uint32 `mapstructure:"fee_bps" toml:"fee_bps"`
	InitialPayoutBps   uint32 `mapstructure:"initial_payout_bps" toml:"initial_payout_bps"`
	VoteThresholdBps   uint32 `mapstructure:"vote_threshold_bps" toml:"vote_threshold_bps"`
	StreamDurationDays uint32 `mapstructure:"stream_duration_days" toml:"stream_duration_days"`

	Recipients []Recipient `mapstructure:"recipients" toml:"recipients"`
}

// Validate rejects campaign sections that could never construct a
// runnable campaign, so a bad edit fails at load instead of at start.
func (c Campaign) Validate() error {
	switch c.Strategy {
	case "", "immediate", "streaming":
	default:
		return errors.Errorf("strategy must be %q or %q, got %q", "immediate", "streaming", c.Strategy)
	}

	for name, bps := range map[string]uint32{
		"fee_bps":            c.FeeBps,
		"initial_payout_bps": c.InitialPayoutBps,
		"vote_threshold_bps": c.VoteThresholdBps,
	} {
		if bps > 10000 {
			return errors.Errorf("%s must not exceed 10000, got %d", name, bps)
		}
	}

	var sum uint32
	for _, r := range c.Recipients {
		if r.ID == "" {
			return errors.New("recipient id must not be empty")
		}
		if r.ShareBps == 0 {
			return errors.Errorf("recipient %q: share_bps must be positive", r.ID)
		}
		sum += r.ShareBps
	}
	if len(c.Recipients) > 0 && sum != 10000 {
		return errors.Errorf("recipient shares sum to %d, want 10000", sum)
	}
	return nil
}

type Recipient struct {
	// ID is the symbolic identifier the recipient directory resolves
	ID       string `mapstructure:"id" toml:"id"`
	ShareBps uint32 `mapstructure:"share_bps" toml:"share_bps"`
}

type Contracts struct {
	Directory string `mapstructure:"directory" toml:"directory"`
	StreamHub string `mapstructure:"stream_hub" toml:"stream_hub"`
}

func DefaultConfig(repoRoot string) *Config {
	return &Config{
		RepoRoot:    repoRoot,
		DialUrl:     "ws://localhost:8546",
		MockBackend: false,
		APIAddr:     "127.0.0.1:8680",
		Log: Log{
			Level:        "info",
			Filename:     "custodian.log",
			ReportCaller: false,
			MaxAge:       30 * 24 * time.Hour,
			RotationTime: 24 * time.Hour,
		},
		Campaign: Campaign{
			Strategy:           "immediate",
			FeeBps:             100,
			InitialPayoutBps:   7000,
			VoteThresholdBps:   5000,
			StreamDurationDays: 30,
			Recipients: []Recipient{
				{ID: "example-recipient", ShareBps: 10000},
			},
		},
	}
}
