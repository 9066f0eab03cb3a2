// Package mongo stores transactions in a MongoDB collection using the
// document layout of the original service: one document per entry, keyed by
// ObjectID, with the owner under "user".
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"budget/internal/core"
	"budget/internal/ledger"
	"budget/internal/log"

	"cloud.google.com/go/civil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "transactions"

type document struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	User      string             `bson:"user"`
	Type      string             `bson:"type"`
	Amount    float64            `bson:"amount"`
	Category  string             `bson:"category"`
	Date      time.Time          `bson:"date"`
	Note      string             `bson:"note"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

type Store struct {
	cli    *mongo.Client
	coll   *mongo.Collection
	logger *log.Logger
	now    func() time.Time
}

var (
	_ ledger.Store        = (*Store)(nil)
	_ ledger.MonthGrouper = (*Store)(nil)
	_ ledger.Pinger       = (*Store)(nil)
)

// Connect dials uri and makes sure the owner/date index exists.
func Connect(ctx context.Context, uri, database string, logger *log.Logger) (*Store, error) {
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	s := NewStore(cli, database, logger)
	if err := s.ensureIndexes(ctx); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func NewStore(cli *mongo.Client, database string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Discard()
	}
	return &Store{
		cli:    cli,
		coll:   cli.Database(database).Collection(collectionName),
		logger: logger.WithComponent(log.ComponentStorage),
		now:    time.Now,
	}
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user", Value: 1}, {Key: "date", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("mongo couldn't create index: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.cli.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.cli.Ping(ctx, nil)
}

func (s *Store) Create(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	now := s.now().UTC()
	tx.CreatedAt, tx.UpdatedAt = now, now

	doc := toDocument(tx)
	doc.ID = primitive.NewObjectID()
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return core.Transaction{}, fmt.Errorf("mongo couldn't InsertOne in Create method: %w", err)
	}
	return fromDocument(doc), nil
}

func (s *Store) Get(ctx context.Context, owner, id string) (core.Transaction, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return core.Transaction{}, ledger.ErrNotFound
	}
	var doc document
	err = s.coll.FindOne(ctx, ownedFilter(oid, owner)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.Transaction{}, ledger.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("mongo couldn't FindOne in Get method: %w", err)
	}
	return fromDocument(doc), nil
}

func (s *Store) Find(ctx context.Context, q ledger.Query) ([]core.Transaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "createdAt", Value: -1}})
	cursor, err := s.coll.Find(ctx, queryFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("mongo couldn't Find in Find method: %w", err)
	}
	defer func() {
		if err := cursor.Close(ctx); err != nil {
			s.logger.Error("mongo couldn't close cursor in Find method", log.FieldError, err)
		}
	}()

	out := make([]core.Transaction, 0)
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo couldn't Decode in Find method: %w", err)
		}
		out = append(out, fromDocument(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongo cursor failed in Find method: %w", err)
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	oid, err := primitive.ObjectIDFromHex(tx.ID)
	if err != nil {
		return core.Transaction{}, ledger.ErrNotFound
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "type", Value: string(tx.Type)},
		{Key: "amount", Value: tx.Amount},
		{Key: "category", Value: tx.Category},
		{Key: "note", Value: tx.Note},
		{Key: "updatedAt", Value: s.now().UTC()},
	}}}
	var doc document
	err = s.coll.FindOneAndUpdate(ctx, ownedFilter(oid, tx.Owner), update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.Transaction{}, ledger.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("mongo couldn't FindOneAndUpdate in Update method: %w", err)
	}
	return fromDocument(doc), nil
}

func (s *Store) Delete(ctx context.Context, owner, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ledger.ErrNotFound
	}
	res, err := s.coll.DeleteOne(ctx, ownedFilter(oid, owner))
	if err != nil {
		return fmt.Errorf("mongo couldn't DeleteOne in Delete method: %w", err)
	}
	if res.DeletedCount == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// SumByMonth runs the $group pipeline keyed by year, month and type.
func (s *Store) SumByMonth(ctx context.Context, owner string, from civil.Date) ([]ledger.MonthTotal, error) {
	cursor, err := s.coll.Aggregate(ctx, monthPipeline(owner, from))
	if err != nil {
		return nil, fmt.Errorf("mongo couldn't Aggregate in SumByMonth method: %w", err)
	}
	defer func() {
		if err := cursor.Close(ctx); err != nil {
			s.logger.Error("mongo couldn't close cursor in SumByMonth method", log.FieldError, err)
		}
	}()

	var out []ledger.MonthTotal
	for cursor.Next(ctx) {
		var row struct {
			ID struct {
				Year  int    `bson:"year"`
				Month int    `bson:"month"`
				Type  string `bson:"type"`
			} `bson:"_id"`
			Total float64 `bson:"total"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("mongo couldn't Decode in SumByMonth method: %w", err)
		}
		out = append(out, ledger.MonthTotal{
			Year:  row.ID.Year,
			Month: time.Month(row.ID.Month),
			Type:  core.Type(row.ID.Type),
			Total: row.Total,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongo cursor failed in SumByMonth method: %w", err)
	}
	return out, nil
}

func ownedFilter(id primitive.ObjectID, owner string) bson.D {
	return bson.D{{Key: "_id", Value: id}, {Key: "user", Value: owner}}
}

func queryFilter(q ledger.Query) bson.D {
	filter := bson.D{{Key: "user", Value: q.Owner}}
	if q.Type != "" {
		filter = append(filter, bson.E{Key: "type", Value: string(q.Type)})
	}
	rng := bson.D{}
	if q.From.IsValid() {
		rng = append(rng, bson.E{Key: "$gte", Value: q.From.In(time.UTC)})
	}
	if q.To.IsValid() {
		rng = append(rng, bson.E{Key: "$lte", Value: q.To.In(time.UTC)})
	}
	if len(rng) > 0 {
		filter = append(filter, bson.E{Key: "date", Value: rng})
	}
	return filter
}

func monthPipeline(owner string, from civil.Date) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "user", Value: owner},
			{Key: "date", Value: bson.D{{Key: "$gte", Value: from.In(time.UTC)}}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "year", Value: bson.D{{Key: "$year", Value: "$date"}}},
				{Key: "month", Value: bson.D{{Key: "$month", Value: "$date"}}},
				{Key: "type", Value: "$type"},
			}},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id.year", Value: 1}, {Key: "_id.month", Value: 1}}}},
	}
}

func toDocument(tx core.Transaction) document {
	return document{
		User:      tx.Owner,
		Type:      string(tx.Type),
		Amount:    tx.Amount,
		Category:  tx.Category,
		Date:      tx.Date.In(time.UTC),
		Note:      tx.Note,
		CreatedAt: tx.CreatedAt,
		UpdatedAt: tx.UpdatedAt,
	}
}

func fromDocument(doc document) core.Transaction {
	return core.Transaction{
		ID:        doc.ID.Hex(),
		Owner:     doc.User,
		Type:      core.Type(doc.Type),
		Amount:    doc.Amount,
		Category:  doc.Category,
		Date:      civil.DateOf(doc.Date.UTC()),
		Note:      doc.Note,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}
