package batchkwargs

// Kind names the family a set of batch kwargs belongs to.
type Kind string

const (
	KindPath   Kind = "path"
	KindS3     Kind = "s3"
	KindMemory Kind = "memory"
	KindQuery  Kind = "query"
	KindTable  Kind = "table"
)

// Typed is batch kwargs classified by the key that identifies their source.
type Typed interface {
	Kind() Kind
	Kwargs() *Kwargs
}

type PathKwargs struct{ kwargs *Kwargs }

func (p PathKwargs) Kind() Kind      { return KindPath }
func (p PathKwargs) Kwargs() *Kwargs { return p.kwargs }

func (p PathKwargs) Path() string {
	path, _ := p.kwargs.GetString(KeyPath)
	return path
}

// ReaderOptions returns every key except path and timestamp.
func (p PathKwargs) ReaderOptions() *Kwargs {
	return readerOptions(p.kwargs, KeyPath)
}

type S3Kwargs struct{ kwargs *Kwargs }

func (s S3Kwargs) Kind() Kind      { return KindS3 }
func (s S3Kwargs) Kwargs() *Kwargs { return s.kwargs }

func (s S3Kwargs) Key() string {
	key, _ := s.kwargs.GetString(KeyS3)
	return key
}

func (s S3Kwargs) ReaderOptions() *Kwargs {
	return readerOptions(s.kwargs, KeyS3)
}

type MemoryKwargs struct{ kwargs *Kwargs }

func (m MemoryKwargs) Kind() Kind      { return KindMemory }
func (m MemoryKwargs) Kwargs() *Kwargs { return m.kwargs }

func (m MemoryKwargs) DataFrame() any {
	value, _ := m.kwargs.Get(KeyDataFrame)
	return value
}

type QueryKwargs struct{ kwargs *Kwargs }

// NewQueryKwargs builds query batch kwargs holding a fully substituted query.
func NewQueryKwargs(query string) QueryKwargs {
	k := New()
	k.Set(KeyQuery, query)
	return QueryKwargs{kwargs: k}
}

func (q QueryKwargs) Kind() Kind      { return KindQuery }
func (q QueryKwargs) Kwargs() *Kwargs { return q.kwargs }

func (q QueryKwargs) Query() string {
	query, _ := q.kwargs.GetString(KeyQuery)
	return query
}

type TableKwargs struct{ kwargs *Kwargs }

func (t TableKwargs) Kind() Kind      { return KindTable }
func (t TableKwargs) Kwargs() *Kwargs { return t.kwargs }

func (t TableKwargs) Table() string {
	table, _ := t.kwargs.GetString(KeyTable)
	return table
}

func (t TableKwargs) Schema() string {
	schema, _ := t.kwargs.GetString(KeySchema)
	return schema
}

// Classify returns the typed view of k. Keys are checked in the order
// path, s3, df, query, table.
func Classify(k *Kwargs) (Typed, error) {
	if k == nil {
		return nil, NewError("batch kwargs are required", nil)
	}
	switch {
	case k.Has(KeyPath):
		if _, ok := k.GetString(KeyPath); !ok {
			return nil, NewError("Invalid batch_kwargs: path must be a string", k)
		}
		return PathKwargs{kwargs: k}, nil
	case k.Has(KeyS3):
		if _, ok := k.GetString(KeyS3); !ok {
			return nil, NewError("Invalid batch_kwargs: s3 must be a string", k)
		}
		return S3Kwargs{kwargs: k}, nil
	case k.Has(KeyDataFrame):
		return MemoryKwargs{kwargs: k}, nil
	case k.Has(KeyQuery):
		if _, ok := k.GetString(KeyQuery); !ok {
			return nil, NewError("Invalid batch_kwargs: query must be a string", k)
		}
		return QueryKwargs{kwargs: k}, nil
	case k.Has(KeyTable):
		if _, ok := k.GetString(KeyTable); !ok {
			return nil, NewError("Invalid batch_kwargs: table must be a string", k)
		}
		return TableKwargs{kwargs: k}, nil
	default:
		return nil, NewError("Unable to classify batch_kwargs: no path, s3, df, query or table key", k)
	}
}

func readerOptions(k *Kwargs, sourceKey string) *Kwargs {
	options := k.Copy()
	options.Delete(sourceKey)
	options.Delete(KeyTimestamp)
	return options
}
