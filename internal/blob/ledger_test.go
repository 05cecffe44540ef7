package blob

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo is an in-memory DynamoDB honoring attribute_not_exists(version).
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := in.Item["index_path"].(*types.AttributeValueMemberS).Value + ":" +
		in.Item["version"].(*types.AttributeValueMemberN).Value
	if aws.ToString(in.ConditionExpression) == "attribute_not_exists(version)" {
		if _, exists := f.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := in.ExpressionAttributeValues[":p"].(*types.AttributeValueMemberS).Value
	var items []map[string]types.AttributeValue
	for _, item := range f.items {
		if item["index_path"].(*types.AttributeValueMemberS).Value == path {
			items = append(items, item)
		}
	}
	version := func(i int) int64 {
		v, _ := strconv.ParseInt(items[i]["version"].(*types.AttributeValueMemberN).Value, 10, 64)
		return v
	}
	sort.Slice(items, func(i, j int) bool { return version(i) > version(j) })
	if in.Limit != nil && int(*in.Limit) < len(items) {
		items = items[:*in.Limit]
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := in.Key["index_path"].(*types.AttributeValueMemberS).Value + ":" +
		in.Key["version"].(*types.AttributeValueMemberN).Value
	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoLedger_CommitAndLatest(t *testing.T) {
	ctx := context.Background()
	ledger := NewDynamoLedger(newFakeDynamo(), "quizrag-index-versions")

	// Given: an empty ledger
	v, err := ledger.Latest(ctx, "index/quiz-index.json")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	// When: committing versions 1 and 2
	require.NoError(t, ledger.Commit(ctx, "index/quiz-index.json", 1))
	require.NoError(t, ledger.Commit(ctx, "index/quiz-index.json", 2))

	// Then: latest is 2, and other keys are independent
	v, err = ledger.Latest(ctx, "index/quiz-index.json")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	v, err = ledger.Latest(ctx, "index/other.json")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestDynamoLedger_SecondWriterLoses(t *testing.T) {
	ctx := context.Background()
	ledger := NewDynamoLedger(newFakeDynamo(), "t")

	// Given: two writers that both loaded version 4
	require.NoError(t, ledger.Commit(ctx, "idx", 5))

	// When: the second tries to claim the same next version
	err := ledger.Commit(ctx, "idx", 5)

	// Then: it detects the conflict
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestMemoryLedger_ConcurrentCommitsSingleWinner(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ledger.Commit(ctx, "idx", 1) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	v, _ := ledger.Latest(ctx, "idx")
	assert.Equal(t, int64(1), v)
}

func TestLedger_ReleaseFreesVersion(t *testing.T) {
	ledgers := map[string]VersionLedger{
		"dynamo": NewDynamoLedger(newFakeDynamo(), "t"),
		"memory": NewMemoryLedger(),
	}
	for name, ledger := range ledgers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Given: version 2 claimed on top of 1
			require.NoError(t, ledger.Commit(ctx, "idx", 1))
			require.NoError(t, ledger.Commit(ctx, "idx", 2))

			// When: the claim on 2 is released
			require.NoError(t, ledger.Release(ctx, "idx", 2))

			// Then: latest falls back and 2 can be claimed again
			v, err := ledger.Latest(ctx, "idx")
			require.NoError(t, err)
			assert.Equal(t, int64(1), v)
			assert.NoError(t, ledger.Commit(ctx, "idx", 2))
		})
	}
}
