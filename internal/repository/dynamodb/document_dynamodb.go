package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"docedit/internal/config"
	"docedit/internal/model"
	"docedit/internal/repository"
)

const (
	keyIndex   = "docKey-index"
	ownerIndex = "ownerId-index"
)

// API is the subset of the DynamoDB client used by the repository.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// documentItem is the stored shape of a document. Timestamps are unix
// milliseconds so they compare numerically in filter expressions.
type documentItem struct {
	ID            string   `dynamodbav:"id"`
	Key           string   `dynamodbav:"docKey"`
	Title         string   `dynamodbav:"title"`
	Filename      string   `dynamodbav:"filename"`
	FileType      string   `dynamodbav:"fileType"`
	StoragePath   string   `dynamodbav:"storagePath"`
	Version       int64    `dynamodbav:"version"`
	Status        string   `dynamodbav:"status"`
	ActiveEditors []string `dynamodbav:"activeEditors"`
	OwnerID       string   `dynamodbav:"ownerId"`
	Size          int64    `dynamodbav:"size"`
	CreatedAt     int64    `dynamodbav:"createdAt"`
	UpdatedAt     int64    `dynamodbav:"updatedAt"`
}

func toItem(d *model.Document) documentItem {
	editors := d.ActiveEditors
	if editors == nil {
		editors = []string{}
	}
	return documentItem{
		ID:            d.ID,
		Key:           d.Key,
		Title:         d.Title,
		Filename:      d.Filename,
		FileType:      string(d.FileType),
		StoragePath:   d.StoragePath,
		Version:       d.Version,
		Status:        string(d.Status),
		ActiveEditors: editors,
		OwnerID:       d.OwnerID,
		Size:          d.Size,
		CreatedAt:     d.CreatedAt.UnixMilli(),
		UpdatedAt:     d.UpdatedAt.UnixMilli(),
	}
}

func (it documentItem) toDomain() *model.Document {
	editors := it.ActiveEditors
	if editors == nil {
		editors = []string{}
	}
	return &model.Document{
		ID:            it.ID,
		Key:           it.Key,
		Title:         it.Title,
		Filename:      it.Filename,
		FileType:      model.FileType(it.FileType),
		StoragePath:   it.StoragePath,
		Version:       it.Version,
		Status:        model.Status(it.Status),
		ActiveEditors: editors,
		OwnerID:       it.OwnerID,
		Size:          it.Size,
		CreatedAt:     time.UnixMilli(it.CreatedAt).UTC(),
		UpdatedAt:     time.UnixMilli(it.UpdatedAt).UTC(),
	}
}

func decode(av map[string]types.AttributeValue) (*model.Document, error) {
	var it documentItem
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document item: %w", err)
	}
	return it.toDomain(), nil
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// DocumentDynamo is a DynamoDB implementation of repository.DocumentRepository.
// The table is keyed by id with global secondary indexes on docKey and ownerId.
type DocumentDynamo struct {
	client    API
	tableName string
	now       func() time.Time
}

// NewDocumentDynamo creates a repository over an existing client.
func NewDocumentDynamo(client API, tableName string) *DocumentDynamo {
	return &DocumentDynamo{
		client:    client,
		tableName: tableName,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ repository.DocumentRepository = (*DocumentDynamo)(nil)

// NewClient loads AWS configuration. A custom endpoint (DynamoDB Local) gets
// static dummy credentials.
func NewClient(ctx context.Context, cfg config.DynamoConfig) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Create writes the item unless the id already exists.
func (r *DocumentDynamo) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	av, err := attributevalue.MarshalMap(toItem(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document item: %w", err)
	}
	cond := expression.AttributeNotExists(expression.Name("id"))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.tableName),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, repository.ErrDuplicateKey
		}
		return nil, fmt.Errorf("failed to put item in DynamoDB: %w", err)
	}
	return decode(av)
}

// FindByID reads one item by primary key.
func (r *DocumentDynamo) FindByID(ctx context.Context, id string) (*model.Document, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return nil, repository.ErrNotFound
	}
	return decode(out.Item)
}

// FindByKey resolves the id through the docKey index, then reads the item
// with a consistent read. Index reads lag behind writes, so status and
// version come from the table itself.
func (r *DocumentDynamo) FindByKey(ctx context.Context, key string) (*model.Document, error) {
	keyCond := expression.Key("docKey").Equal(expression.Value(key))
	expr, err := expression.NewBuilder().
		WithKeyCondition(keyCond).
		WithProjection(expression.NamesList(expression.Name("id"))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(keyIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query DynamoDB: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, repository.ErrNotFound
	}
	var ref struct {
		ID string `dynamodbav:"id"`
	}
	if err := attributevalue.UnmarshalMap(out.Items[0], &ref); err != nil {
		return nil, fmt.Errorf("failed to unmarshal index item: %w", err)
	}
	return r.FindByID(ctx, ref.ID)
}

// List queries the owner index and paginates in memory; DynamoDB has no offsets.
func (r *DocumentDynamo) List(ctx context.Context, ownerID string, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	keyCond := expression.Key("ownerId").Equal(expression.Value(ownerID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	docs := make([]model.Document, 0)
	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(r.tableName),
			IndexName:                 aws.String(ownerIndex),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query DynamoDB: %w", err)
		}
		for _, av := range out.Items {
			d, err := decode(av)
			if err != nil {
				return nil, err
			}
			docs = append(docs, *d)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].ID > docs[j].ID
		}
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
	total := len(docs)
	start := min(max(pq.Offset, 0), total)
	end := total
	if pq.Limit > 0 {
		end = min(start+pq.Limit, total)
	}
	return &repository.PageResult[model.Document]{Items: docs[start:end], Total: total}, nil
}

func (r *DocumentDynamo) update(ctx context.Context, id string, update expression.UpdateBuilder, cond expression.ConditionBuilder) (*model.Document, error) {
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       idKey(id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, err
	}
	return decode(out.Attributes)
}

// Update applies the patch with a single UpdateItem call.
func (r *DocumentDynamo) Update(ctx context.Context, id string, patch model.DocumentPatch) (*model.Document, error) {
	if patch.Empty() {
		return r.FindByID(ctx, id)
	}

	upd := expression.Set(expression.Name("updatedAt"), expression.Value(r.now().UnixMilli()))
	if patch.Title != nil {
		upd = upd.Set(expression.Name("title"), expression.Value(*patch.Title))
	}
	if patch.Status != nil {
		upd = upd.Set(expression.Name("status"), expression.Value(string(*patch.Status)))
	}
	if patch.ActiveEditors != nil {
		editors := *patch.ActiveEditors
		if editors == nil {
			editors = []string{}
		}
		upd = upd.Set(expression.Name("activeEditors"), expression.Value(editors))
	}
	if patch.Size != nil {
		upd = upd.Set(expression.Name("size"), expression.Value(*patch.Size))
	}

	doc, err := r.update(ctx, id, upd, expression.AttributeExists(expression.Name("id")))
	if err != nil {
		if isConditionFailed(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update item in DynamoDB: %w", err)
	}
	return doc, nil
}

// ClaimSave is a conditional write: it succeeds only while status <> saving.
func (r *DocumentDynamo) ClaimSave(ctx context.Context, id string) (*model.Document, error) {
	upd := expression.Set(expression.Name("status"), expression.Value(string(model.StatusSaving))).
		Set(expression.Name("updatedAt"), expression.Value(r.now().UnixMilli()))
	cond := expression.AttributeExists(expression.Name("id")).
		And(expression.Name("status").NotEqual(expression.Value(string(model.StatusSaving))))

	doc, err := r.update(ctx, id, upd, cond)
	if err == nil {
		return doc, nil
	}
	if !isConditionFailed(err) {
		return nil, fmt.Errorf("failed to claim save in DynamoDB: %w", err)
	}
	if _, ferr := r.FindByID(ctx, id); ferr != nil {
		return nil, ferr
	}
	return nil, repository.ErrSaveInFlight
}

// CommitSave uses ADD so the version increment happens server-side.
func (r *DocumentDynamo) CommitSave(ctx context.Context, id string, size int64) (*model.Document, error) {
	upd := expression.Add(expression.Name("version"), expression.Value(1)).
		Set(expression.Name("status"), expression.Value(string(model.StatusReady))).
		Set(expression.Name("activeEditors"), expression.Value([]string{})).
		Set(expression.Name("size"), expression.Value(size)).
		Set(expression.Name("updatedAt"), expression.Value(r.now().UnixMilli()))

	doc, err := r.update(ctx, id, upd, expression.AttributeExists(expression.Name("id")))
	if err != nil {
		if isConditionFailed(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to commit save in DynamoDB: %w", err)
	}
	return doc, nil
}

// ResetStaleSaves scans for abandoned claims and releases each one with a
// conditional write, so a claim refreshed in the meantime is left alone.
func (r *DocumentDynamo) ResetStaleSaves(ctx context.Context, before time.Time) (int64, error) {
	stale := expression.Name("status").Equal(expression.Value(string(model.StatusSaving))).
		And(expression.Name("updatedAt").LessThan(expression.Value(before.UnixMilli())))
	scanExpr, err := expression.NewBuilder().WithFilter(stale).Build()
	if err != nil {
		return 0, fmt.Errorf("failed to build expression: %w", err)
	}

	var n int64
	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(r.tableName),
			FilterExpression:          scanExpr.Filter(),
			ExpressionAttributeNames:  scanExpr.Names(),
			ExpressionAttributeValues: scanExpr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return n, fmt.Errorf("failed to scan DynamoDB table: %w", err)
		}
		for _, av := range out.Items {
			d, err := decode(av)
			if err != nil {
				return n, err
			}
			upd := expression.Set(expression.Name("status"), expression.Value(string(model.StatusReady))).
				Set(expression.Name("updatedAt"), expression.Value(r.now().UnixMilli()))
			if _, err := r.update(ctx, d.ID, upd, stale); err != nil {
				if isConditionFailed(err) {
					continue
				}
				return n, fmt.Errorf("failed to reset stale save: %w", err)
			}
			n++
		}
		if len(out.LastEvaluatedKey) == 0 {
			return n, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// Delete removes the item; deleting a missing id is not an error.
func (r *DocumentDynamo) Delete(ctx context.Context, id string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       idKey(id),
	})
	if err != nil {
		return fmt.Errorf("failed to delete item from DynamoDB: %w", err)
	}
	return nil
}
