package cmd

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jt05610/drawbot/events"
	"github.com/jt05610/drawbot/fabnet"
	"github.com/jt05610/drawbot/machine"
	"github.com/jt05610/drawbot/metrics"
	"github.com/jt05610/drawbot/node"
	"github.com/jt05610/drawbot/node/sim"
	"github.com/jt05610/drawbot/persist"
	"github.com/jt05610/drawbot/profile"
	"github.com/jt05610/drawbot/prompt"
)

// session holds everything opened for one command.
type session struct {
	profile  *profile.Profile
	machine  *machine.Machine
	metrics  *metrics.Recorder
	closers  []func() error
	operator prompt.Confirmer
}

func (s *session) Close() error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i]())
	}
	return err
}

func loadProfile() (*profile.Profile, error) {
	if environ.Profile == "" {
		return profile.Default(), nil
	}
	return profile.Load(environ.Profile)
}

func openStore(ctx context.Context, p *profile.Profile) (persist.Store, error) {
	if environ.CouchURI != "" {
		logger.Info("using couchdb bindings", zap.String("database", environ.CouchDB))
		return persist.OpenCouch(ctx, environ.CouchURI, environ.CouchDB)
	}
	path := environ.Persistence
	if path == "" {
		path = p.Persistence
	}
	if path == "" {
		path = persist.DefaultFile
	}
	return persist.NewFile(path), nil
}

func simNodes(p *profile.Profile) map[string]node.Node {
	ret := make(map[string]node.Node)
	for _, name := range p.NodeNames() {
		ret[name] = sim.New(name)
	}
	return ret
}

func busNodes(ctx context.Context, s *session, p *profile.Profile, operator prompt.Confirmer) (map[string]node.Node, error) {
	store, err := openStore(ctx, p)
	if err != nil {
		return nil, err
	}
	portName, rate, linkType := p.Serial.Port, p.Serial.Baud, p.Serial.Link
	if environ.SerialPort != "" {
		portName = environ.SerialPort
	}
	if environ.Baud != 0 {
		rate = environ.Baud
	}
	if environ.Link != "" {
		linkType = environ.Link
	}
	port, err := fabnet.OpenPort(portName, rate, linkType)
	if err != nil {
		return nil, err
	}
	logger.Info("serial port open", zap.String("port", portName), zap.Int("baud", rate), zap.String("link", linkType))
	network := fabnet.NewNetwork(port, fabnet.WithLogger(logger.Named("fabnet")))
	s.closers = append(s.closers, network.Close)
	r := &fabnet.Resolver{
		Network: network,
		Store:   store,
		Announce: func(ctx context.Context, name string) error {
			return operator.Confirm(ctx, fmt.Sprintf("Press the button on %s and then press enter", name))
		},
		Logger: logger.Named("resolve"),
	}
	resolved, err := r.Resolve(ctx, p.NodeNames()...)
	if err != nil {
		return nil, err
	}
	ret := make(map[string]node.Node, len(resolved))
	for _, n := range resolved {
		ret[n.Name()] = n
	}
	return ret, nil
}

func openSession(ctx context.Context, operator prompt.Confirmer) (*session, error) {
	p, err := loadProfile()
	if err != nil {
		return nil, err
	}
	s := &session{profile: p, operator: operator}
	var nodes map[string]node.Node
	if dryRun {
		logger.Info("dry run, using simulated nodes")
		nodes = simNodes(p)
	} else if nodes, err = busNodes(ctx, s, p, operator); err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	cfg, err := p.Config(nodes)
	if err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	cfg.Logger = logger.Named("machine")

	rec, err := metrics.NewRecorder(nil, p.Name)
	if err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	s.metrics = rec
	cfg.Observers = append(cfg.Observers, rec)
	if environ.RabbitURI != "" {
		conn, err := events.Dial(environ.RabbitURI, environ.Exchange)
		if err != nil {
			return nil, multierr.Append(err, s.Close())
		}
		s.closers = append(s.closers, conn.Close)
		cfg.Observers = append(cfg.Observers, events.NewPublisher(conn.Channel, environ.Exchange, p.Name, logger.Named("events")))
		logger.Info("publishing move events", zap.String("exchange", environ.Exchange))
	}

	if s.machine, err = machine.New(cfg); err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	return s, nil
}

func terminal(yes bool) prompt.Confirmer {
	if yes {
		return prompt.None{}
	}
	return &prompt.Terminal{Accessible: accessible, In: os.Stdin, Out: os.Stderr}
}
