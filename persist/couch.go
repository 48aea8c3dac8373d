package persist

import (
	"context"
	"net/http"
	"strings"

	_ "github.com/go-kivik/couchdb/v3"
	"github.com/go-kivik/kivik/v3"
	"github.com/pkg/errors"

	"github.com/jt05610/drawbot"
)

var _ Store = (*Couch)(nil)

// Couch keeps one document per node in a CouchDB database. The document ID is
// the node name.
type Couch struct {
	db *kivik.DB
}

type couchDoc struct {
	ID  string `json:"_id"`
	Rev string `json:"_rev,omitempty"`
	Binding
}

// OpenCouch connects to uri and creates the database if needed.
func OpenCouch(ctx context.Context, uri string, name string) (*Couch, error) {
	client, err := kivik.New("couch", uri)
	if err != nil {
		return nil, err
	}
	dbs, err := client.AllDBs(ctx)
	if err != nil {
		return nil, err
	}
	found := false
	for _, db := range dbs {
		if db == name {
			found = true
			break
		}
	}
	if !found {
		if err := client.CreateDB(ctx, name); err != nil {
			return nil, err
		}
	}
	db := client.DB(ctx, name)
	if err := db.Err(); err != nil {
		return nil, err
	}
	return &Couch{db: db}, nil
}

func (c *Couch) Load(ctx context.Context) (Bindings, error) {
	rows, err := c.db.AllDocs(ctx, kivik.Options{"include_docs": true})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ret := make(Bindings)
	for rows.Next() {
		if strings.HasPrefix(rows.ID(), "_design/") {
			continue
		}
		var doc couchDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return nil, drawbot.NewConfigurationError("couchdb", errors.Wrapf(err, "corrupt binding %q", rows.ID()))
		}
		if doc.Address < 0 {
			return nil, drawbot.NewConfigurationError("couchdb", errors.Errorf("invalid binding %q: address %d", doc.ID, doc.Address))
		}
		ret[doc.ID] = doc.Binding
	}
	return ret, rows.Err()
}

func (c *Couch) Save(ctx context.Context, b Bindings) error {
	for name, binding := range b {
		doc := couchDoc{ID: name, Binding: binding}
		row := c.db.Get(ctx, name)
		var prev couchDoc
		err := row.ScanDoc(&prev)
		switch {
		case err == nil:
			doc.Rev = row.Rev
		case kivik.StatusCode(err) == http.StatusNotFound:
		default:
			return err
		}
		if _, err := c.db.Put(ctx, name, doc); err != nil {
			return errors.Wrapf(err, "save binding %q", name)
		}
	}
	return nil
}
