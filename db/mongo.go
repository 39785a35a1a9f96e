package db

import (
	"context"
	"fmt"
	"time"

	"snore-detection/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoTimeout = 10 * time.Second

type MongoClient struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoClient(uri, database string) (*MongoClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to MongoDB: %s", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("error pinging MongoDB: %s", err)
	}

	collection := client.Database(database).Collection("detections")
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("error creating timestamp index: %s", err)
	}

	return &MongoClient{client: client, collection: collection}, nil
}

func (db *MongoClient) Close() error {
	if db.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()
	return db.client.Disconnect(ctx)
}

func (db *MongoClient) StoreDetection(detection *models.Detection) error {
	if detection.Timestamp.IsZero() {
		detection.Timestamp = time.Now()
	}
	if detection.ID == 0 {
		detection.ID = time.Now().UnixNano()
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()
	if _, err := db.collection.InsertOne(ctx, detection); err != nil {
		return fmt.Errorf("error storing detection: %s", err)
	}
	return nil
}

func (db *MongoClient) RecentDetections(limit int) ([]models.Detection, error) {
	// SetLimit(0) would mean no limit at all.
	if limit <= 0 {
		return nil, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))
	return db.find(bson.D{}, opts)
}

func (db *MongoClient) DetectionsSince(since time.Time) ([]models.Detection, error) {
	filter := bson.D{{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: since}}}}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	return db.find(filter, opts)
}

func (db *MongoClient) find(filter bson.D, opts *options.FindOptions) ([]models.Detection, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	cursor, err := db.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying detections: %s", err)
	}
	defer cursor.Close(ctx)

	var detections []models.Detection
	if err := cursor.All(ctx, &detections); err != nil {
		return nil, fmt.Errorf("error decoding detections: %s", err)
	}
	return detections, nil
}
