package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"regisync/backend/internal/domain"
)

const maxTxAttempts = 5

// RedisStore keeps each shop under the regisync:{shop}: prefix. Sales are JSON
// documents indexed by a sorted set scored on createdAt milliseconds, details
// are a hash keyed by line index and inventory is a hash of counters.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string, password string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStore{client: client}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type shopKeys struct {
	prefix    string
	index     string
	inventory string
}

func keysFor(shopCode string) shopKeys {
	prefix := "regisync:{" + shopCode + "}:"
	return shopKeys{
		prefix:    prefix,
		index:     prefix + "sales",
		inventory: prefix + "inventory",
	}
}

func (k shopKeys) sale(id string) string {
	return k.prefix + "sale:" + id
}

func (k shopKeys) details(id string) string {
	return k.prefix + "sale:" + id + ":details"
}

func (s *RedisStore) Inventory(ctx context.Context, shopCode string, productCode string) (int64, error) {
	val, err := s.client.HGet(ctx, keysFor(shopCode).inventory, productCode).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, classify(err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse inventory %s: %w", productCode, err)
	}
	return n, nil
}

// RunTransaction uses WATCH/MULTI/EXEC. Reads go through the watched
// connection and writes are queued until fn returns; a concurrent change to a
// watched key discards the attempt and fn runs again.
func (s *RedisStore) RunTransaction(ctx context.Context, shopCode string, fn func(ctx context.Context, tx Tx) error) error {
	keys := keysFor(shopCode)

	var fnErr error
	txf := func(rtx *redis.Tx) error {
		t := &redisTx{rtx: rtx, keys: keys}
		if fnErr = fn(ctx, t); fnErr != nil {
			return fnErr
		}
		if len(t.ops) == 0 {
			return nil
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, op := range t.ops {
				op(pipe)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, keys.index, keys.inventory)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if fnErr != nil {
			return fnErr
		}
		return classify(err)
	}
	return fmt.Errorf("%w: too many conflicting attempts", ErrAborted)
}

type redisTx struct {
	rtx  *redis.Tx
	keys shopKeys
	ops  []func(pipe redis.Pipeliner)
}

func (t *redisTx) SaleExists(ctx context.Context, id string) (bool, error) {
	saleKey := t.keys.sale(id)
	if err := t.rtx.Watch(ctx, saleKey).Err(); err != nil {
		return false, classify(err)
	}
	n, err := t.rtx.Exists(ctx, saleKey).Result()
	if err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

func (t *redisTx) PutSale(_ context.Context, doc domain.SaleDocument) error {
	payload, err := json.Marshal(doc.Sale)
	if err != nil {
		return err
	}
	fields := make(map[string]any, len(doc.SaleDetails))
	for _, detail := range doc.SaleDetails {
		raw, err := json.Marshal(detail)
		if err != nil {
			return err
		}
		fields[strconv.Itoa(detail.Index)] = raw
	}

	id := doc.Sale.ID
	score := float64(doc.Sale.CreatedAt.UnixMilli())
	t.ops = append(t.ops, func(pipe redis.Pipeliner) {
		ctx := context.Background()
		pipe.Set(ctx, t.keys.sale(id), payload, 0)
		pipe.Del(ctx, t.keys.details(id))
		if len(fields) > 0 {
			pipe.HSet(ctx, t.keys.details(id), fields)
		}
		pipe.ZAdd(ctx, t.keys.index, redis.Z{Score: score, Member: id})
	})
	return nil
}

func (t *redisTx) IncrementInventory(_ context.Context, productCode string, delta int64) error {
	t.ops = append(t.ops, func(pipe redis.Pipeliner) {
		pipe.HIncrBy(context.Background(), t.keys.inventory, productCode, delta)
	})
	return nil
}

func (t *redisTx) QuerySales(ctx context.Context, since time.Time) ([]domain.SaleDocument, error) {
	ids, err := t.rtx.ZRevRangeByScore(ctx, t.keys.index, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, classify(err)
	}

	docs := make([]domain.SaleDocument, 0, len(ids))
	for _, id := range ids {
		raw, err := t.rtx.Get(ctx, t.keys.sale(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, classify(err)
		}
		var doc domain.SaleDocument
		if err := json.Unmarshal(raw, &doc.Sale); err != nil {
			return nil, fmt.Errorf("decode sale %s: %w", id, err)
		}
		if doc.Sale.CreatedAt.Before(since) {
			continue
		}

		fields, err := t.rtx.HGetAll(ctx, t.keys.details(id)).Result()
		if err != nil {
			return nil, classify(err)
		}
		doc.SaleDetails = make([]domain.SaleDetail, 0, len(fields))
		for index, rawDetail := range fields {
			var detail domain.SaleDetail
			if err := json.Unmarshal([]byte(rawDetail), &detail); err != nil {
				return nil, fmt.Errorf("decode sale %s detail %s: %w", id, index, err)
			}
			doc.SaleDetails = append(doc.SaleDetails, detail)
		}
		slices.SortFunc(doc.SaleDetails, func(a, b domain.SaleDetail) int {
			return a.Index - b.Index
		})
		docs = append(docs, doc)
	}
	return docs, nil
}

// classify maps redis failures onto the package errors. Server replies abort
// the transaction; anything else is treated as lost connectivity.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrAborted) || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
