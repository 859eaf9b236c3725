package lease

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DynamoDB key layout, shared with other records in a single table.
const (
	pkPrefix = "LEASE#"
	skLease  = "LEASE"
)

// dynamoAPI is the subset of *dynamodb.Client used by DynamoLocker.
type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// leaseItem is the stored lease. expiresAt doubles as the table's TTL
// attribute so abandoned leases are eventually removed.
type leaseItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	Owner      string `dynamodbav:"owner"`
	ExpiresAt  int64  `dynamodbav:"expiresAt"`
	AcquiredAt int64  `dynamodbav:"acquiredAt"`
}

// DynamoLocker implements Locker with conditional writes on a DynamoDB table.
type DynamoLocker struct {
	client    dynamoAPI
	tableName string
	owner     string
	now       func() time.Time
}

var _ Locker = (*DynamoLocker)(nil)

// NewDynamoLocker creates a locker on tableName. Each locker has a unique
// owner id (hostname plus a random suffix).
func NewDynamoLocker(client *dynamodb.Client, tableName string) *DynamoLocker {
	return newDynamoLocker(client, tableName)
}

func newDynamoLocker(client dynamoAPI, tableName string) *DynamoLocker {
	host, _ := os.Hostname()
	return &DynamoLocker{
		client:    client,
		tableName: tableName,
		owner:     host + "/" + uuid.NewString(),
		now:       time.Now,
	}
}

// Owner returns this locker's owner id.
func (l *DynamoLocker) Owner() string { return l.owner }

func (l *DynamoLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := l.now()
	item, err := attributevalue.MarshalMap(leaseItem{
		PK:         pkPrefix + key,
		SK:         skLease,
		Owner:      l.owner,
		ExpiresAt:  now.Add(ttl).Unix(),
		AcquiredAt: now.Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("marshal lease: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &l.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR expiresAt < :now OR #owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
			":owner": &types.AttributeValueMemberS{Value: l.owner},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			log.Debug().Str("key", key).Msg("Lease held by another scheduler")
			return false, nil
		}
		return false, fmt.Errorf("PutItem lease %s: %w", key, err)
	}
	return true, nil
}

func (l *DynamoLocker) Release(ctx context.Context, key string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &l.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkPrefix + key},
			"SK": &types.AttributeValueMemberS{Value: skLease},
		},
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: l.owner},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("DeleteItem lease %s: %w", key, err)
	}
	return nil
}
