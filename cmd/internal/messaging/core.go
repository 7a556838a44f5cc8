package messaging

import (
	"errors"
	"time"

	"coachhub/cmd/identity"
)

// Options tunes the core services.
type Options struct {
	SearchDebounce time.Duration
	MatchWindow    time.Duration
}

// Core bundles the services built on one Store.
type Core struct {
	Store     *Store
	Roster    identity.Roster
	Reads     *ReadState
	Directory *Directory
	Pipeline  *Pipeline
	Live      *LiveChannel
	Search    *SearchIndex

	opts Options
}

// NewCore wires the services over store and roster.
func NewCore(store *Store, roster identity.Roster, opts Options) (*Core, error) {
	if store == nil {
		return nil, errors.New("messaging: nil store")
	}
	if opts.SearchDebounce <= 0 {
		opts.SearchDebounce = DefaultSearchDebounce
	}
	if opts.MatchWindow <= 0 {
		opts.MatchWindow = DefaultMatchWindow
	}

	pipeline, err := NewPipeline(store, roster)
	if err != nil {
		return nil, err
	}
	reads := NewReadState(store)
	return &Core{
		Store:     store,
		Roster:    roster,
		Reads:     reads,
		Directory: NewDirectory(store, reads),
		Pipeline:  pipeline,
		Live:      NewLiveChannel(store),
		Search:    NewSearchIndex(store),
		opts:      opts,
	}, nil
}

// Options returns the effective options.
func (c *Core) Options() Options { return c.opts }
