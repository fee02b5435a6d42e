package database

import (
	"database/sql"
	"strconv"
	"strings"
)

// VectorScanner scans a stored embedding column.
type VectorScanner interface {
	sql.Scanner
	Slice() []float32
}

// VectorCodec converts embeddings to and from a backend's column type.
type VectorCodec interface {
	Value(v []float32) any
	Scanner() VectorScanner
}

// Dialect captures the SQL differences between supported backends.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of ?.
	Numbered bool
	// InsertIgnore starts an insert that silently skips unique violations,
	// IgnoreSuffix completes it.
	InsertIgnore string
	IgnoreSuffix string
	// FromDual is appended to a FROM-less SELECT that carries a WHERE clause.
	FromDual string
	Vectors  VectorCodec
}

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) vectors() VectorCodec {
	if d.Vectors == nil {
		return JSONVectors{}
	}
	return d.Vectors
}
