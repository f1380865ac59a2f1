package store

import (
	"context"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Firestore implements Gateway over a hosted Firestore project.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore connects to the project, using the credentials file when one
// is configured and application-default credentials otherwise.
func NewFirestore(ctx context.Context, projectID, credentialsFile string) (*Firestore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, err
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, err
	}
	return &Firestore{client: client}, nil
}

func (f *Firestore) GetByKey(ctx context.Context, collection, key string) (Doc, bool, error) {
	snap, err := f.client.Collection(collection).Doc(key).Get(ctx)
	if err != nil {
		if snap != nil && !snap.Exists() {
			return Doc{}, false, nil
		}
		return Doc{}, false, err
	}
	return Doc{Key: snap.Ref.ID, Fields: snap.Data()}, true, nil
}

func (f *Firestore) SetByKey(ctx context.Context, collection, key string, fields map[string]any, merge bool) error {
	ref := f.client.Collection(collection).Doc(key)
	var err error
	if merge {
		_, err = ref.Set(ctx, fields, firestore.MergeAll)
	} else {
		_, err = ref.Set(ctx, fields)
	}
	return err
}

func (f *Firestore) DeleteByKey(ctx context.Context, collection, key string) error {
	_, err := f.client.Collection(collection).Doc(key).Delete(ctx)
	return err
}

func (f *Firestore) AddWithGeneratedKey(ctx context.Context, collection string, fields map[string]any) (string, error) {
	ref, _, err := f.client.Collection(collection).Add(ctx, fields)
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

func (f *Firestore) QueryEqual(ctx context.Context, collection, field string, value any, limit int) ([]Doc, error) {
	return f.run(ctx, f.client.Collection(collection).Where(field, "==", value), limit)
}

func (f *Firestore) QueryLessThan(ctx context.Context, collection, field string, value any, limit int) ([]Doc, error) {
	return f.run(ctx, f.client.Collection(collection).Where(field, "<", value), limit)
}

func (f *Firestore) QueryGreaterThan(ctx context.Context, collection, field string, value any, limit int) ([]Doc, error) {
	return f.run(ctx, f.client.Collection(collection).Where(field, ">", value), limit)
}

func (f *Firestore) QueryAll(ctx context.Context, collection string, limit int) ([]Doc, error) {
	return f.run(ctx, f.client.Collection(collection).Query, limit)
}

func (f *Firestore) run(ctx context.Context, q firestore.Query, limit int) ([]Doc, error) {
	if limit > 0 {
		q = q.Limit(limit)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	var docs []Doc
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, Doc{Key: snap.Ref.ID, Fields: snap.Data()})
	}
	return docs, nil
}

func (f *Firestore) NewBatch() Batch {
	return &firestoreBatch{client: f.client, batch: f.client.Batch()}
}

func (f *Firestore) ServerTimestamp() any {
	return firestore.ServerTimestamp
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

type firestoreBatch struct {
	client *firestore.Client
	batch  *firestore.WriteBatch
	ops    int
}

func (b *firestoreBatch) Set(collection, key string, fields map[string]any, merge bool) {
	ref := b.client.Collection(collection).Doc(key)
	if merge {
		b.batch.Set(ref, fields, firestore.MergeAll)
	} else {
		b.batch.Set(ref, fields)
	}
	b.ops++
}

func (b *firestoreBatch) Delete(collection, key string) {
	b.batch.Delete(b.client.Collection(collection).Doc(key))
	b.ops++
}

func (b *firestoreBatch) Commit(ctx context.Context) error {
	if b.ops > MaxBatchOps {
		return ErrBatchTooLarge
	}
	_, err := b.batch.Commit(ctx)
	return err
}
