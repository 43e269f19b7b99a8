package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/digital-play/api/internal/domain"
	pfirestore "github.com/digital-play/api/internal/platform/firestore"
	"github.com/digital-play/api/internal/repositories"
)

const defaultLowStockThreshold = 5

// InventoryRepository mutates the stock counters stored on product documents.
// It is the only writer of the stock field; catalog writes leave it untouched.
type InventoryRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[stockDocument]
}

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[stockDocument](provider, productCollection, nil, nil)
	return &InventoryRepository{provider: provider, products: products}, nil
}

// Decrement applies every line inside one Firestore transaction. All stock
// documents are read before any write, and a single short line fails the
// whole transaction, so concurrent checkouts never observe a partial
// decrement and the last unit is sold exactly once.
func (r *InventoryRepository) Decrement(ctx context.Context, req repositories.StockDecrementRequest) (repositories.StockMutationResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockMutationResult{}, errors.New("inventory repository not initialised")
	}
	if len(req.Lines) == 0 {
		return repositories.StockMutationResult{}, errors.New("inventory decrement: at least one line is required")
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result repositories.StockMutationResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pendingWrite struct {
			ref       *firestore.DocumentRef
			productID string
			remaining int64
		}
		writes := make([]pendingWrite, 0, len(req.Lines))

		for _, line := range req.Lines {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" {
				return repositories.NewInventoryError(repositories.InventoryErrorUnknown, "", "inventory decrement: product id is required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewInventoryError(repositories.InventoryErrorUnknown, productID, fmt.Sprintf("inventory decrement: quantity for %s must be > 0", productID), nil)
			}

			ref, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, productID, fmt.Sprintf("stock for %s not found", productID), err)
				}
				return err
			}
			var doc stockDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock %s: %w", productID, err)
			}
			if doc.Stock < line.Quantity {
				return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, productID, fmt.Sprintf("insufficient stock for %s: have %d, want %d", productID, doc.Stock, line.Quantity), nil)
			}
			writes = append(writes, pendingWrite{ref: ref, productID: productID, remaining: doc.Stock - line.Quantity})
		}

		levels := make(map[string]domain.StockLevel, len(writes))
		for _, w := range writes {
			updates := []firestore.Update{
				{Path: "stock", Value: w.remaining},
				{Path: "updatedAt", Value: now},
			}
			if err := tx.Update(w.ref, updates); err != nil {
				return err
			}
			levels[w.productID] = domain.StockLevel{
				ProductID: w.productID,
				OnHand:    w.remaining,
				UpdatedAt: now,
			}
		}

		result = repositories.StockMutationResult{Levels: levels}
		return nil
	})
	if err != nil {
		return repositories.StockMutationResult{}, wrapInventoryError("inventory.decrement", err)
	}
	return result, nil
}

// Increment restores stock for the given lines in one transaction. Lines
// whose product document no longer exists are skipped rather than failing
// the whole restock: compensation must not be blocked by a catalog delete.
func (r *InventoryRepository) Increment(ctx context.Context, req repositories.StockIncrementRequest) (repositories.StockMutationResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockMutationResult{}, errors.New("inventory repository not initialised")
	}
	if len(req.Lines) == 0 {
		return repositories.StockMutationResult{}, errors.New("inventory increment: at least one line is required")
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result repositories.StockMutationResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pendingWrite struct {
			ref       *firestore.DocumentRef
			productID string
			remaining int64
		}
		writes := make([]pendingWrite, 0, len(req.Lines))

		for _, line := range req.Lines {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" {
				return repositories.NewInventoryError(repositories.InventoryErrorUnknown, "", "inventory increment: product id is required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewInventoryError(repositories.InventoryErrorUnknown, productID, fmt.Sprintf("inventory increment: quantity for %s must be > 0", productID), nil)
			}

			ref, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					continue
				}
				return err
			}
			var doc stockDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock %s: %w", productID, err)
			}
			writes = append(writes, pendingWrite{ref: ref, productID: productID, remaining: doc.Stock + line.Quantity})
		}

		levels := make(map[string]domain.StockLevel, len(writes))
		for _, w := range writes {
			updates := []firestore.Update{
				{Path: "stock", Value: w.remaining},
				{Path: "updatedAt", Value: now},
			}
			if err := tx.Update(w.ref, updates); err != nil {
				return err
			}
			levels[w.productID] = domain.StockLevel{
				ProductID: w.productID,
				OnHand:    w.remaining,
				UpdatedAt: now,
			}
		}

		result = repositories.StockMutationResult{Levels: levels}
		return nil
	})
	if err != nil {
		return repositories.StockMutationResult{}, wrapInventoryError("inventory.increment", err)
	}
	return result, nil
}

// GetStock reads the current stock counter for one product.
func (r *InventoryRepository) GetStock(ctx context.Context, productID string) (domain.StockLevel, error) {
	if r == nil || r.products == nil {
		return domain.StockLevel{}, errors.New("inventory repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.StockLevel{}, errors.New("inventory get stock: product id is required")
	}

	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.StockLevel{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, productID, fmt.Sprintf("stock for %s not found", productID), err)
		}
		return domain.StockLevel{}, wrapInventoryError("inventory.getStock", err)
	}

	return domain.StockLevel{
		ProductID: doc.ID,
		OnHand:    doc.Data.Stock,
		UpdatedAt: doc.UpdateTime,
	}, nil
}

// SetStock overwrites the stock counter with an absolute value.
func (r *InventoryRepository) SetStock(ctx context.Context, productID string, quantity int64, now time.Time) (domain.StockLevel, error) {
	if r == nil || r.provider == nil {
		return domain.StockLevel{}, errors.New("inventory repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.StockLevel{}, errors.New("inventory set stock: product id is required")
	}
	if quantity < 0 {
		return domain.StockLevel{}, repositories.NewInventoryError(repositories.InventoryErrorUnknown, productID, "inventory set stock: quantity must be >= 0", nil)
	}

	at := now.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var level domain.StockLevel
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.products.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}
		if _, err := tx.Get(ref); err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, productID, fmt.Sprintf("stock for %s not found", productID), err)
			}
			return err
		}
		updates := []firestore.Update{
			{Path: "stock", Value: quantity},
			{Path: "updatedAt", Value: at},
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		level = domain.StockLevel{ProductID: productID, OnHand: quantity, UpdatedAt: at}
		return nil
	})
	if err != nil {
		return domain.StockLevel{}, wrapInventoryError("inventory.setStock", err)
	}
	return level, nil
}

// ListLowStock pages through products whose stock counter is at or below the
// threshold, lowest first.
func (r *InventoryRepository) ListLowStock(ctx context.Context, query repositories.LowStockQuery) (domain.CursorPage[domain.StockLevel], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.StockLevel]{}, errors.New("inventory repository not initialised")
	}

	threshold := query.Threshold
	if threshold <= 0 {
		threshold = defaultLowStockThreshold
	}
	pageSize := query.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.StockLevel]{}, wrapInventoryError("inventory.lowStock", err)
	}

	firestoreQuery := client.Collection(productCollection).Query.
		Where("stock", "<=", threshold).
		OrderBy("stock", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(query.Pagination.PageToken); token != "" {
		decoded, err := decodeStockPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.StockLevel]{}, wrapInventoryError("inventory.lowStock", err)
		}
		firestoreQuery = firestoreQuery.StartAfter(decoded.Stock, decoded.ProductID)
	}

	iter := firestoreQuery.Documents(ctx)
	defer iter.Stop()

	var levels []domain.StockLevel
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.StockLevel]{}, wrapInventoryError("inventory.lowStock", err)
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.StockLevel]{}, fmt.Errorf("decode stock %s: %w", snap.Ref.ID, err)
		}
		levels = append(levels, domain.StockLevel{
			ProductID: snap.Ref.ID,
			OnHand:    doc.Stock,
			UpdatedAt: doc.UpdatedAt,
		})
	}

	hasMore := len(levels) > pageSize
	if hasMore {
		levels = levels[:pageSize]
	}
	var nextToken string
	if hasMore && len(levels) > 0 {
		last := levels[len(levels)-1]
		encoded, err := encodeStockPageToken(stockPageToken{ProductID: last.ProductID, Stock: last.OnHand})
		if err != nil {
			return domain.CursorPage[domain.StockLevel]{}, wrapInventoryError("inventory.lowStock", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.StockLevel]{
		Items:         levels,
		NextPageToken: nextToken,
	}, nil
}

// stockDocument decodes only the inventory-owned fields of a product document.
type stockDocument struct {
	Stock     int64     `firestore:"stock"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type stockPageToken struct {
	ProductID string
	Stock     int64
}

func encodeStockPageToken(token stockPageToken) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if err := enc.Encode(token); err != nil {
		return "", fmt.Errorf("encode stock page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeStockPageToken(encoded string) (*stockPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode stock page token: %w", err)
	}
	var token stockPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode stock page token json: %w", err)
	}
	return &token, nil
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)
