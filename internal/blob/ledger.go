package blob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// VersionLedger records which index versions have been committed, giving the
// index store a compare-and-swap primitive that plain object stores lack.
type VersionLedger interface {
	// Latest returns the highest committed version for key, or 0 if none.
	Latest(ctx context.Context, key string) (int64, error)
	// Commit claims version for key. It returns ErrConcurrentModification if
	// another writer already claimed it.
	Commit(ctx context.Context, key string, version int64) error
	// Release withdraws a claimed version whose write never landed.
	Release(ctx context.Context, key string, version int64) error
}

// DynamoAPI is the subset of the DynamoDB client used by DynamoLedger.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoLedger implements VersionLedger with conditional writes.
//
// Table schema:
//   - Partition key: index_path (S)
//   - Sort key: version (N)
//
//	aws dynamodb create-table \
//	  --table-name quizrag-index-versions \
//	  --attribute-definitions AttributeName=index_path,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=index_path,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DynamoLedger struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

// NewDynamoLedger creates a ledger backed by table.
func NewDynamoLedger(client DynamoAPI, table string) *DynamoLedger {
	return &DynamoLedger{client: client, table: table, now: time.Now}
}

func (l *DynamoLedger) Latest(ctx context.Context, key string) (int64, error) {
	resp, err := l.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(l.table),
		KeyConditionExpression: aws.String("index_path = :p"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: key},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, fmt.Errorf("query version ledger: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, nil
	}

	attr, ok := resp.Items[0]["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("invalid version attribute in version ledger")
	}
	v, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ledger version: %w", err)
	}
	return v, nil
}

func (l *DynamoLedger) Commit(ctx context.Context, key string, version int64) error {
	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item: map[string]types.AttributeValue{
			"index_path":   &types.AttributeValueMemberS{Value: key},
			"version":      &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
			"committed_at": &types.AttributeValueMemberS{Value: l.now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("commit version %d: %w", version, err)
	}
	return nil
}

func (l *DynamoLedger) Release(ctx context.Context, key string, version int64) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.table),
		Key: map[string]types.AttributeValue{
			"index_path": &types.AttributeValueMemberS{Value: key},
			"version":    &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("release version %d: %w", version, err)
	}
	return nil
}

// MemoryLedger is an in-process VersionLedger for tests and single-host setups.
type MemoryLedger struct {
	mu       sync.Mutex
	versions map[string]map[int64]struct{}
	latest   map[string]int64
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		versions: make(map[string]map[int64]struct{}),
		latest:   make(map[string]int64),
	}
}

func (l *MemoryLedger) Latest(ctx context.Context, key string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latest[key], nil
}

func (l *MemoryLedger) Commit(ctx context.Context, key string, version int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := l.versions[key]
	if seen == nil {
		seen = make(map[int64]struct{})
		l.versions[key] = seen
	}
	if _, ok := seen[version]; ok {
		return ErrConcurrentModification
	}
	seen[version] = struct{}{}
	if version > l.latest[key] {
		l.latest[key] = version
	}
	return nil
}

var (
	_ VersionLedger = (*DynamoLedger)(nil)
	_ VersionLedger = (*MemoryLedger)(nil)
)

func (l *MemoryLedger) Release(ctx context.Context, key string, version int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := l.versions[key]
	delete(seen, version)
	var latest int64
	for v := range seen {
		latest = max(latest, v)
	}
	l.latest[key] = latest
	return nil
}
