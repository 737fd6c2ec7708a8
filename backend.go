package prism

import (
	"github.com/ripkitten-co/prism/internal/codecs"
	"github.com/ripkitten-co/prism/internal/pg"
	"github.com/ripkitten-co/prism/schema"
)

type backend struct {
	exec   pg.Executor
	codec  codecs.Codec
	schema *schema.Bootstrap
}

// Backend is what the events, projections and readmodels packages need from
// a Store: an executor, a codec and the schema bootstrap cache.
type Backend interface {
	DBExecutor() pg.Executor
	JSONCodec() codecs.Codec
	SchemaBootstrap() *schema.Bootstrap
}

var _ Backend = (*Store)(nil)
