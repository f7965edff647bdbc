package bridge

import (
	"fmt"
	"strconv"

	"github.com/mattmelling/asl-zello-bridge/codec"
	"github.com/mattmelling/asl-zello-bridge/shared"
	"github.com/mattmelling/asl-zello-bridge/token"
	"github.com/mattmelling/asl-zello-bridge/usrp"
	"github.com/mattmelling/asl-zello-bridge/zello"
)

// Config assembles every environment variable this bridge reads at
// startup, covering both Zello Free (private key JWT) and Zello Work
// (username/password against the work API) authentication modes, into
// typed fields.
type Config struct {
	ZelloWSEndpoint string
	ZelloUsername   string
	ZelloPassword   string
	ZelloChannel    string
	ZelloPrivateKey string
	ZelloIssuer     string
	ZelloWorkAPI    string

	USRPBind     string
	USRPRXPort   int
	USRPHost     string
	USRPTXPort   int
	USRPGainRXDB float64
	USRPGainTXDB float64

	LogLevel  string
	LogFormat string

	OpusComplexity int
	OpusBitrate    int
}

// LoadConfig reads every configuration variable from the environment,
// applying sensible defaults to the optional ones.
func LoadConfig() (Config, error) {
	var cfg Config
	var err error

	if cfg.ZelloWSEndpoint, err = shared.RequireString("ZELLO_WS_ENDPOINT"); err != nil {
		return cfg, err
	}
	if cfg.ZelloUsername, err = shared.RequireString("ZELLO_USERNAME"); err != nil {
		return cfg, err
	}
	if cfg.ZelloPassword, err = shared.RequireString("ZELLO_PASSWORD"); err != nil {
		return cfg, err
	}
	if cfg.ZelloChannel, err = shared.RequireString("ZELLO_CHANNEL"); err != nil {
		return cfg, err
	}
	cfg.ZelloPrivateKey = shared.OptionalString("ZELLO_PRIVATE_KEY", "")
	cfg.ZelloIssuer = shared.OptionalString("ZELLO_ISSUER", "")
	cfg.ZelloWorkAPI = shared.OptionalString("ZELLOWORK_API", shared.OptionalString("ZELLO_API_ENDPOINT", ""))

	if cfg.USRPBind, err = shared.RequireString("USRP_BIND"); err != nil {
		return cfg, err
	}
	if cfg.USRPRXPort, err = requireInt("USRP_RXPORT"); err != nil {
		return cfg, err
	}
	if cfg.USRPHost, err = shared.RequireString("USRP_HOST"); err != nil {
		return cfg, err
	}
	cfg.USRPTXPort = shared.OptionalInt("USRP_TXPORT", usrp.DefaultTXPort)
	cfg.USRPGainRXDB = shared.OptionalFloat("USRP_GAIN_RX_DB", 0)
	cfg.USRPGainTXDB = shared.OptionalFloat("USRP_GAIN_TX_DB", 0)

	cfg.LogLevel = shared.OptionalString("LOG_LEVEL", "info")
	cfg.LogFormat = shared.OptionalString("LOG_FORMAT", "console")

	cfg.OpusComplexity = shared.OptionalInt("OPUS_COMPLEXITY", 0)
	cfg.OpusBitrate = shared.OptionalInt("OPUS_BITRATE", 0)

	return cfg, cfg.Validate()
}

func requireInt(key string) (int, error) {
	v, err := shared.RequireString(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a valid port number", key, v)
	}
	return n, nil
}

// Validate rejects a config with no usable authentication scheme: a
// missing Zello Free private key and missing Zello Work API both mean
// the bridge has no way to log in, so it should fail fast at startup
// rather than discover this on the first auth attempt.
func (c Config) Validate() error {
	if c.ZelloPrivateKey == "" && c.ZelloWorkAPI == "" {
		return fmt.Errorf("%w: set ZELLO_PRIVATE_KEY (Zello Free) or ZELLOWORK_API (Zello Work)", shared.ErrNoAuthScheme)
	}
	return nil
}

// TokenService builds the token.Service matching this configuration's
// authentication mode.
func (c Config) TokenService() *token.Service {
	if c.ZelloPrivateKey != "" {
		return token.NewFree(c.ZelloPrivateKey, c.ZelloIssuer)
	}
	return token.NewWork(c.ZelloWorkAPI, c.ZelloUsername, c.ZelloPassword)
}

// USRPConfig projects the USRP-related fields into a usrp.Config.
func (c Config) USRPConfig() usrp.Config {
	return usrp.Config{
		BindAddr: c.USRPBind,
		RXPort:   c.USRPRXPort,
		TXHost:   c.USRPHost,
		TXPort:   c.USRPTXPort,
		RXGainDB: c.USRPGainRXDB,
		TXGainDB: c.USRPGainTXDB,
	}
}

// ZelloConfig projects the Zello-related fields into a zello.Config.
func (c Config) ZelloConfig() zello.Config {
	return zello.Config{
		WSEndpoint: c.ZelloWSEndpoint,
		Username:   c.ZelloUsername,
		Password:   c.ZelloPassword,
		Channel:    c.ZelloChannel,
	}
}

// CodecOptions projects the Opus tuning fields into codec.Options.
func (c Config) CodecOptions() codec.Options {
	return codec.Options{
		Complexity: c.OpusComplexity,
		BitrateBPS: c.OpusBitrate,
	}
}
