package records

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"

	"vocalytics/internal/apperr"
	"vocalytics/internal/awsutil"
	"vocalytics/internal/models"
)

const (
	transcriptIDKey   = "TranscriptID"
	usernameKey       = "Username"
	creationDateKey   = "CreationDate"
	transcriptTextKey = "TranscriptText"
	segmentsKey       = "Segments"
	mediaIDKey        = "mediaID"
)

// DynamoStore keeps records in a DynamoDB table keyed by TranscriptID.
type DynamoStore struct {
	db         dynamodbiface.DynamoDBAPI
	table      string
	ownerIndex string
	mediaIndex string
}

// NewDynamoStore returns a Store on table, querying ownerIndex for listings
// and mediaIndex for media key fallback lookups.
func NewDynamoStore(db dynamodbiface.DynamoDBAPI, table, ownerIndex, mediaIndex string) *DynamoStore {
	return &DynamoStore{
		db:         db,
		table:      table,
		ownerIndex: ownerIndex,
		mediaIndex: mediaIndex,
	}
}

func (d *DynamoStore) Save(ctx context.Context, rec *models.TranscriptRecord) error {
	segments, err := json.Marshal(rec.Segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	item := map[string]*dynamodb.AttributeValue{
		transcriptIDKey:   {S: aws.String(rec.ID)},
		usernameKey:       {S: aws.String(rec.Owner)},
		creationDateKey:   {S: aws.String(rec.CreatedAt.UTC().Format(time.RFC3339))},
		transcriptTextKey: {S: aws.String(rec.Text)},
		segmentsKey:       {S: aws.String(string(segments))},
	}
	if rec.MediaKey != "" {
		item[mediaIDKey] = &dynamodb.AttributeValue{S: aws.String(rec.MediaKey)}
	}
	if _, err := d.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	}); err != nil {
		return classify("put item", err)
	}
	return nil
}

func (d *DynamoStore) Get(ctx context.Context, id string) (*models.TranscriptRecord, error) {
	res, err := d.db.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		ConsistentRead: aws.Bool(true),
		Key: map[string]*dynamodb.AttributeValue{
			transcriptIDKey: {S: aws.String(id)},
		},
	})
	if err != nil {
		return nil, classify("get item", err)
	}
	if len(res.Item) == 0 {
		return nil, apperr.ErrRecordNotFound
	}
	return recordFromItem(res.Item)
}

func (d *DynamoStore) ListByOwner(ctx context.Context, owner string) ([]models.RecordSummary, error) {
	var (
		out     []models.RecordSummary
		itemErr error
	)
	err := d.db.QueryPagesWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		IndexName:              aws.String(d.ownerIndex),
		KeyConditionExpression: aws.String("#username = :username"),
		ExpressionAttributeNames: map[string]*string{
			"#username": aws.String(usernameKey),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":username": {S: aws.String(owner)},
		},
	}, func(page *dynamodb.QueryOutput, lastPage bool) bool {
		for _, item := range page.Items {
			created, err := parseCreated(item)
			if err != nil {
				itemErr = err
				return false
			}
			out = append(out, models.RecordSummary{
				ID:        stringAttr(item, transcriptIDKey),
				CreatedAt: created,
			})
		}
		return true
	})
	if err != nil {
		if isMissingIndex(err) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrIndexMissing, d.ownerIndex)
		}
		return nil, classify("query owner index", err)
	}
	if itemErr != nil {
		return nil, itemErr
	}
	return out, nil
}

func (d *DynamoStore) MediaKeyFromIndex(ctx context.Context, id string) (string, error) {
	res, err := d.db.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		IndexName:              aws.String(d.mediaIndex),
		KeyConditionExpression: aws.String("TranscriptID = :transcriptId"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":transcriptId": {S: aws.String(id)},
		},
	})
	if err != nil {
		if isMissingIndex(err) {
			return "", fmt.Errorf("%w: %s", apperr.ErrIndexMissing, d.mediaIndex)
		}
		return "", classify("query media index", err)
	}
	for _, item := range res.Items {
		if key := stringAttr(item, mediaIDKey); key != "" {
			return key, nil
		}
	}
	return "", nil
}

func (d *DynamoStore) Delete(ctx context.Context, id string) error {
	if _, err := d.db.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key: map[string]*dynamodb.AttributeValue{
			transcriptIDKey: {S: aws.String(id)},
		},
	}); err != nil {
		return classify("delete item", err)
	}
	return nil
}

func recordFromItem(item map[string]*dynamodb.AttributeValue) (*models.TranscriptRecord, error) {
	created, err := parseCreated(item)
	if err != nil {
		return nil, err
	}
	rec := &models.TranscriptRecord{
		ID:        stringAttr(item, transcriptIDKey),
		Owner:     stringAttr(item, usernameKey),
		Text:      stringAttr(item, transcriptTextKey),
		CreatedAt: created,
		MediaKey:  stringAttr(item, mediaIDKey),
	}
	if raw := stringAttr(item, segmentsKey); raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Segments); err != nil {
			return nil, fmt.Errorf("decode segments of %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

func parseCreated(item map[string]*dynamodb.AttributeValue) (time.Time, error) {
	raw := stringAttr(item, creationDateKey)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s %q: %w", creationDateKey, raw, err)
	}
	return t, nil
}

func stringAttr(item map[string]*dynamodb.AttributeValue, key string) string {
	if v, ok := item[key]; ok && v != nil {
		return aws.StringValue(v.S)
	}
	return ""
}

func isMissingIndex(err error) bool {
	e, ok := err.(awserr.Error)
	return ok && e.Code() == "ValidationException" && strings.Contains(e.Message(), "specified index")
}

func classify(op string, err error) error {
	if awsutil.IsNetworkError(err) {
		return apperr.Wrap(apperr.KindNetwork, "Network error. Please try again.", fmt.Errorf("dynamodb %s: %w", op, err))
	}
	return fmt.Errorf("dynamodb %s: %w", op, err)
}
