package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"notary-chat/internal/domain"
)

const (
	pkPrefixSession = "SESSION#"
	skSession       = "META#"
	sessionTTL      = 30 * 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB surface used by DynamoStore.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore shares sessions across machines through a DynamoDB table keyed
// by PK/SK. Items expire through the table's ttl attribute.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("session: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("session: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, now: time.Now}, nil
}

func sessionPK(profile string) string {
	return pkPrefixSession + normalizeProfile(profile)
}

func (d *DynamoStore) key(profile string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(profile)},
		"SK": &types.AttributeValueMemberS{Value: skSession},
	}
}

func (d *DynamoStore) Load(ctx context.Context, profile string) (Session, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.key(profile),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Session{}, fmt.Errorf("session: get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return Session{}, ErrNoSession
	}

	// Expired items linger until DynamoDB sweeps them.
	if ttl, err := intAttr(out.Item, "ttl"); err == nil && ttl > 0 && d.now().Unix() >= ttl {
		return Session{}, ErrNoSession
	}
	return itemToSession(out.Item)
}

func (d *DynamoStore) Save(ctx context.Context, profile string, s Session) error {
	if !s.Credentials.Valid() {
		return errors.New("session: refusing to save empty credentials")
	}
	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      d.sessionItem(profile, s),
	})
	if err != nil {
		return fmt.Errorf("session: put item: %w", err)
	}
	return nil
}

func (d *DynamoStore) Delete(ctx context.Context, profile string) error {
	_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.key(profile),
	})
	if err != nil {
		return fmt.Errorf("session: delete item: %w", err)
	}
	return nil
}

func (d *DynamoStore) sessionItem(profile string, s Session) map[string]types.AttributeValue {
	created := s.CreatedAt
	if created.IsZero() {
		created = d.now()
	}
	item := d.key(profile)
	item["apiKey"] = &types.AttributeValueMemberS{Value: s.Credentials.Token}
	item["userId"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.Credentials.UserID, 10)}
	item["email"] = &types.AttributeValueMemberS{Value: s.Email}
	item["createdAt"] = &types.AttributeValueMemberS{Value: created.UTC().Format(time.RFC3339)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(created.Add(sessionTTL).Unix(), 10)}
	return item
}

func itemToSession(item map[string]types.AttributeValue) (Session, error) {
	token, err := strAttr(item, "apiKey")
	if err != nil {
		return Session{}, err
	}
	userID, err := intAttr(item, "userId")
	if err != nil {
		return Session{}, err
	}
	email, _ := strAttr(item, "email") // allow empty
	var created time.Time
	if raw, err := strAttr(item, "createdAt"); err == nil {
		created, _ = time.Parse(time.RFC3339, raw)
	}
	return Session{
		Credentials: domain.Credentials{Token: token, UserID: userID},
		Email:       email,
		CreatedAt:   created,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("session: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("session: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("session: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("session: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("session: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
