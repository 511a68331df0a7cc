// Package localddb is a DynamoDB-compatible store backed by BadgerDB. It
// serves the single-table operations shopstore uses so the storefront can run
// and be tested without AWS: item writes with condition expressions, update
// expressions, queries on the base table and global secondary indexes,
// batches, transactions with idempotency tokens and TTL expiry.
package localddb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/dgraph-io/badger/v4"
)

// Store is a DynamoDB-compatible store backed by BadgerDB
type Store struct {
	db *badger.DB

	// mu serialises writes so condition checks and the writes they guard
	// observe the same state
	mu     sync.Mutex
	tables map[string]*tableMeta
	tokens map[string]tokenEntry
	now    func() time.Time
}

type tableMeta struct {
	Name       string            `json:"name"`
	PartKey    string            `json:"pk"`
	SortKey    string            `json:"sk,omitempty"`
	Indexes    map[string]gsiDef `json:"indexes,omitempty"`
	TTLAttr    string            `json:"ttl,omitempty"`
	TTLEnabled bool              `json:"ttl_enabled,omitempty"`
	Created    time.Time         `json:"created"`
}

type gsiDef struct {
	PartKey string `json:"pk"`
	SortKey string `json:"sk,omitempty"`
}

func (t *tableMeta) keyAttrs() []string {
	if t.SortKey == "" {
		return []string{t.PartKey}
	}
	return []string{t.PartKey, t.SortKey}
}

type tokenEntry struct {
	fingerprint string
	at          time.Time
}

// tokenWindow is how long a ClientRequestToken stays idempotent
const tokenWindow = 10 * time.Minute

// Options configures the Badger database
type Options struct {
	// Path to the database directory. Empty means in-memory.
	Path string
	// InMemory forces in-memory mode even if Path is set
	InMemory bool
	// Logger for Badger. Nil disables Badger logging.
	Logger badger.Logger
	// Now overrides the clock used for TTL sweeps and token expiry
	Now func() time.Time
}

// Open opens or creates a store and loads the tables it already holds
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}

	s := &Store{
		db:     db,
		tables: make(map[string]*tableMeta),
		tokens: make(map[string]tokenEntry),
		now:    opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{'t', sep}})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var meta tableMeta
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				return err
			}
			s.tables[meta.Name] = &meta
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load tables: %w", err)
	}
	return s, nil
}

// Close closes the Badger database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) table(name *string) (*tableMeta, error) {
	if name == nil || *name == "" {
		return nil, validationError("TableName is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tableLocked(*name)
}

func (s *Store) tableLocked(name string) (*tableMeta, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found: Table: " + name + " not found")}
	}
	return t, nil
}

func (s *Store) saveTable(txn *badger.Txn, t *tableMeta) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return txn.Set(tableKey(t.Name), data)
}

// CreateTable creates a table. Key attributes must be strings.
func (s *Store) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	if params == nil || params.TableName == nil {
		return nil, validationError("TableName is required")
	}

	attrTypes := make(map[string]types.ScalarAttributeType)
	for _, d := range params.AttributeDefinitions {
		attrTypes[aws.ToString(d.AttributeName)] = d.AttributeType
	}
	schemaKeys := func(ks []types.KeySchemaElement) (string, string, error) {
		var pk, sk string
		for _, k := range ks {
			name := aws.ToString(k.AttributeName)
			if attrTypes[name] != types.ScalarAttributeTypeS {
				return "", "", validationError("key attribute %s must be defined with type S", name)
			}
			if k.KeyType == types.KeyTypeHash {
				pk = name
			} else {
				sk = name
			}
		}
		if pk == "" {
			return "", "", validationError("a HASH key is required")
		}
		return pk, sk, nil
	}

	pk, sk, err := schemaKeys(params.KeySchema)
	if err != nil {
		return nil, err
	}
	meta := &tableMeta{
		Name:    *params.TableName,
		PartKey: pk,
		SortKey: sk,
		Indexes: make(map[string]gsiDef),
		Created: s.now().UTC(),
	}
	for _, g := range params.GlobalSecondaryIndexes {
		gpk, gsk, err := schemaKeys(g.KeySchema)
		if err != nil {
			return nil, err
		}
		meta.Indexes[aws.ToString(g.IndexName)] = gsiDef{PartKey: gpk, SortKey: gsk}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[meta.Name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("Table already exists: " + meta.Name)}
	}
	if err := s.db.Update(func(txn *badger.Txn) error { return s.saveTable(txn, meta) }); err != nil {
		return nil, fmt.Errorf("create table %s: %w", meta.Name, err)
	}
	s.tables[meta.Name] = meta

	return &dynamodb.CreateTableOutput{TableDescription: meta.describe()}, nil
}

// DescribeTable reports a table. Tables are ACTIVE as soon as they exist.
func (s *Store) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	t, err := s.table(params.TableName)
	if err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{Table: t.describe()}, nil
}

func (t *tableMeta) describe() *types.TableDescription {
	key := func(pk, sk string) []types.KeySchemaElement {
		ks := []types.KeySchemaElement{{AttributeName: aws.String(pk), KeyType: types.KeyTypeHash}}
		if sk != "" {
			ks = append(ks, types.KeySchemaElement{AttributeName: aws.String(sk), KeyType: types.KeyTypeRange})
		}
		return ks
	}
	desc := &types.TableDescription{
		TableName:        aws.String(t.Name),
		TableStatus:      types.TableStatusActive,
		KeySchema:        key(t.PartKey, t.SortKey),
		CreationDateTime: aws.Time(t.Created),
	}
	for name, g := range t.Indexes {
		desc.GlobalSecondaryIndexes = append(desc.GlobalSecondaryIndexes, types.GlobalSecondaryIndexDescription{
			IndexName:   aws.String(name),
			IndexStatus: types.IndexStatusActive,
			KeySchema:   key(g.PartKey, g.SortKey),
			Projection:  &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}
	return desc
}

// UpdateTimeToLive enables or disables expiry on a table
func (s *Store) UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	if params == nil || params.TimeToLiveSpecification == nil {
		return nil, validationError("TimeToLiveSpecification is required")
	}
	spec := params.TimeToLiveSpecification

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tableLocked(aws.ToString(params.TableName))
	if err != nil {
		return nil, err
	}

	updated := *t
	updated.TTLAttr = aws.ToString(spec.AttributeName)
	updated.TTLEnabled = aws.ToBool(spec.Enabled)
	if err := s.db.Update(func(txn *badger.Txn) error { return s.saveTable(txn, &updated) }); err != nil {
		return nil, fmt.Errorf("update ttl on %s: %w", t.Name, err)
	}
	s.tables[t.Name] = &updated

	return &dynamodb.UpdateTimeToLiveOutput{TimeToLiveSpecification: spec}, nil
}

func validationError(format string, args ...interface{}) error {
	return &smithy.GenericAPIError{
		Code:    "ValidationException",
		Message: fmt.Sprintf(format, args...),
		Fault:   smithy.FaultClient,
	}
}

// IsValidation reports whether err is a ValidationException
func IsValidation(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationException"
}
