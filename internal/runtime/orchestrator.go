package runtime

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tooboredtocode/jwt-forward-auth/internal/authority"
	"github.com/tooboredtocode/jwt-forward-auth/internal/clock"
	"github.com/tooboredtocode/jwt-forward-auth/internal/config"
	"github.com/tooboredtocode/jwt-forward-auth/internal/jwks"
	"github.com/tooboredtocode/jwt-forward-auth/internal/lifecycle"
	"github.com/tooboredtocode/jwt-forward-auth/internal/reload"
	"github.com/tooboredtocode/jwt-forward-auth/internal/validator"
)

// Orchestrator owns the reloadable config source, the JWKS store, the
// published request-handler snapshot, and the lifecycle cell they all
// drive.
type Orchestrator struct {
	snapshot  *Snapshot
	jwksStore *jwks.Store
	lifecycle *lifecycle.Cell
	clk       clock.Clock
	log       *slog.Logger

	source *reload.Source[*config.Config]
}

// New constructs the orchestrator, performs the initial config load, and
// starts the background reload loop. A non-nil error here means the
// reloadable source itself could not be constructed (e.g. the config path
// cannot be watched) — this is fatal at process startup.
func New(ctx context.Context, configPath string, httpClient *http.Client, clk clock.Clock, log *slog.Logger) (*Orchestrator, error) {
	o := &Orchestrator{
		snapshot:  NewSnapshot(),
		jwksStore: jwks.NewStore(httpClient, clk),
		lifecycle: lifecycle.NewCell(),
		clk:       clk,
		log:       log,
	}

	src, err := reload.New(configPath, config.Load, o.onWatchError)
	if err != nil {
		return nil, err
	}
	o.source = src

	o.bootstrap(ctx)
	go o.reloadLoop(ctx)

	return o, nil
}

// Snapshot returns the published {authorities, validators} view the
// request handler reads from.
func (o *Orchestrator) Snapshot() *Snapshot { return o.snapshot }

// Lifecycle returns the lifecycle cell the readiness probe observes.
func (o *Orchestrator) Lifecycle() *lifecycle.Cell { return o.lifecycle }

// Close releases the underlying file watcher.
func (o *Orchestrator) Close() error { return o.source.Close() }

func (o *Orchestrator) onWatchError(err error) {
	o.log.Warn("config watcher error", "error", err)
}

// bootstrap performs the first observation of the reloadable source.
func (o *Orchestrator) bootstrap(ctx context.Context) {
	v := o.source.Get()
	if v.Err != nil {
		o.log.Error("initial config load failed", "error", v.Err)
		o.lifecycle.Store(lifecycle.FaultyConfig)
		return
	}

	o.load(v.Result)
	if err := o.jwksStore.RefreshAll(ctx); err != nil {
		o.log.Warn("initial jwks refresh had errors", "error", err)
	}
	o.lifecycle.Store(lifecycle.Running)
}

// reloadLoop waits for each subsequent reload event and reacts to its
// outcome.
func (o *Orchestrator) reloadLoop(ctx context.Context) {
	for {
		waited := make(chan struct{})
		go func() {
			o.source.Wait()
			close(waited)
		}()

		select {
		case <-ctx.Done():
			return
		case <-waited:
		}

		v := o.source.Get()
		if v.Err != nil {
			o.log.Error("config reload failed, holding faulty state", "error", v.Err)
			o.lifecycle.Store(lifecycle.FaultyConfig)
			o.snapshot.Authorities.Clear()
			o.snapshot.Validators.Clear()
			continue
		}

		o.load(v.Result)
		if err := o.jwksStore.RefreshNew(ctx); err != nil {
			o.log.Warn("jwks refresh-new had errors", "error", err)
		}
		o.lifecycle.Store(lifecycle.Running)
	}
}

// load rebuilds the authority and validator maps from cfg and swaps each
// into its store with a single atomic pointer store: always a full
// replacement, never a per-entry merge. The two stores are swapped one
// after the other; each validator holds its own authority pointer, so a
// validator read from the store never refers to an authority from a
// different load.
func (o *Orchestrator) load(cfg *config.Config) {
	keep := make(map[string]struct{}, len(cfg.Authorities))
	authorities := make(map[string]*authority.Authority, len(cfg.Authorities))
	for name, a := range cfg.Authorities {
		entry := o.jwksStore.Ensure(a.JWKSURL)
		keep[a.JWKSURL] = struct{}{}
		authorities[name] = authority.New(a, entry, o.clk)
	}
	o.jwksStore.Prune(keep)

	validators := make(map[string]*validator.Validator, len(cfg.Validators))
	for name, v := range cfg.Validators {
		auth, ok := authorities[v.AuthorityName]
		if !ok {
			// Resolve already guarantees I1 (authority_name exists); this
			// would mean two concurrent loads raced past validation.
			o.log.Error("validator references authority missing from this load", "validator", name, "authority", v.AuthorityName)
			continue
		}
		validators[name] = validator.New(v, auth)
	}

	o.snapshot.Authorities.Update(authorities)
	o.snapshot.Validators.Update(validators)
}
