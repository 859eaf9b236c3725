package lease

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeTable evaluates the two condition expressions DynamoLocker uses.
type fakeTable struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: make(map[string]map[string]types.AttributeValue)}
}

func str(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func num(av types.AttributeValue) int64 {
	if n, ok := av.(*types.AttributeValueMemberN); ok {
		v, _ := strconv.ParseInt(n.Value, 10, 64)
		return v
	}
	return 0
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := str(in.Item["PK"])
	if cur, ok := f.items[pk]; ok {
		expired := num(cur["expiresAt"]) < num(in.ExpressionAttributeValues[":now"])
		sameOwner := str(cur["owner"]) == str(in.ExpressionAttributeValues[":owner"])
		if !expired && !sameOwner {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("held")}
		}
	}
	f.items[pk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := str(in.Key["PK"])
	cur, ok := f.items[pk]
	if !ok || str(cur["owner"]) != str(in.ExpressionAttributeValues[":owner"]) {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("not owner")}
	}
	delete(f.items, pk)
	return &dynamodb.DeleteItemOutput{}, nil
}

func strPtr(s string) *string { return &s }

func TestDynamoLocker(t *testing.T) {
	ctx := context.Background()
	table := newFakeTable()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	a := newDynamoLocker(table, "leases")
	a.now = clock
	b := newDynamoLocker(table, "leases")
	b.now = clock

	ok, err := a.Acquire(ctx, "task-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = b.Acquire(ctx, "task-1", time.Minute)
	if err != nil || ok {
		t.Fatalf("second holder must be refused: ok=%v err=%v", ok, err)
	}
	ok, _ = a.Acquire(ctx, "task-1", time.Minute)
	if !ok {
		t.Error("holder should be able to re-acquire its own lease")
	}

	if err := b.Release(ctx, "task-1"); err != nil {
		t.Errorf("releasing someone else's lease should be a no-op, got %v", err)
	}
	ok, _ = b.Acquire(ctx, "task-1", time.Minute)
	if ok {
		t.Error("lease must survive a release by a non-owner")
	}

	if err := a.Release(ctx, "task-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = b.Acquire(ctx, "task-1", time.Minute)
	if !ok {
		t.Error("lease should be free after release")
	}
}

func TestDynamoLockerExpiry(t *testing.T) {
	ctx := context.Background()
	table := newFakeTable()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := newDynamoLocker(table, "leases")
	a.now = func() time.Time { return now }
	b := newDynamoLocker(table, "leases")
	b.now = func() time.Time { return now.Add(2 * time.Minute) }

	if ok, _ := a.Acquire(ctx, "task-1", time.Minute); !ok {
		t.Fatal("first acquire failed")
	}
	if ok, _ := b.Acquire(ctx, "task-1", time.Minute); !ok {
		t.Error("expired lease should be taken over")
	}
}

func TestNopLocker(t *testing.T) {
	var l Locker = NopLocker{}
	ok, err := l.Acquire(context.Background(), "k", time.Minute)
	if !ok || err != nil {
		t.Errorf("NopLocker must always grant: ok=%v err=%v", ok, err)
	}
}
