// Package env reads deployment settings from the process environment and an
// optional .env file.
package env

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jt05610/drawbot"
)

const (
	SerialPort  = "DRAWBOT_SERIAL_PORT"
	SerialBaud  = "DRAWBOT_SERIAL_BAUD"
	Link        = "DRAWBOT_LINK"
	Profile     = "DRAWBOT_PROFILE"
	Persistence = "DRAWBOT_PERSISTENCE"
	CouchURI    = "COUCHDB_URI"
	CouchDB     = "COUCHDB_DATABASE"
	RabbitURI   = "RABBITMQ_URI"
	Exchange    = "AMQP_EXCHANGE"
	MetricsAddr = "DRAWBOT_METRICS_ADDR"
	GRPCPort    = "DRAWBOT_GRPC_PORT"
)

type Environment struct {
	SerialPort string
	Baud       int
	Link       string
	// Profile is a path to a machine profile. Empty selects the built-in
	// drawing machine.
	Profile     string
	Persistence string
	CouchURI    string
	CouchDB     string
	RabbitURI   string
	Exchange    string
	MetricsAddr string
	GRPCPort    int
}

// Defaults are used for every key that is not set. Serial settings stay empty
// so the machine profile can supply them.
func Defaults() *Environment {
	return &Environment{
		CouchDB:     "drawbot",
		Exchange:    "drawbot",
		MetricsAddr: "localhost:55155",
		GRPCPort:    55055,
	}
}

// Load reads files (".env" when none are given) and then the process
// environment, which wins on conflicts. A missing default .env is not an
// error; a missing named file is.
func Load(logger *zap.Logger, files ...string) (*Environment, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	vars := map[string]string{}
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			files = []string{".env"}
		} else {
			logger.Debug("no .env file, using process environment")
		}
	}
	if len(files) > 0 {
		read, err := godotenv.Read(files...)
		if err != nil {
			return nil, drawbot.NewConfigurationError("env", errors.Wrap(err, "read .env"))
		}
		vars = read
	}
	return Parse(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	})
}

// Parse builds an Environment from lookup, starting from Defaults.
func Parse(lookup func(string) (string, bool)) (*Environment, error) {
	e := Defaults()
	for key, dst := range map[string]*string{
		SerialPort:  &e.SerialPort,
		Link:        &e.Link,
		Profile:     &e.Profile,
		Persistence: &e.Persistence,
		CouchURI:    &e.CouchURI,
		CouchDB:     &e.CouchDB,
		RabbitURI:   &e.RabbitURI,
		Exchange:    &e.Exchange,
		MetricsAddr: &e.MetricsAddr,
	} {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	for key, dst := range map[string]*int{
		SerialBaud: &e.Baud,
		GRPCPort:   &e.GRPCPort,
	} {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, drawbot.NewConfigurationError(key, errors.Errorf("expected a positive integer, got %q", v))
		}
		*dst = n
	}
	return e, nil
}
