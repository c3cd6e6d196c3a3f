package erp

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Fake is an in-memory Client for tests and for running the service
// without a connector. Post outcomes can be scripted per card code.
type Fake struct {
	mu sync.Mutex

	Orders          map[string]PurchaseOrder // by DocNum
	Items           map[string]Classification
	PostErrors      map[string]error // by NumAtCard prefix match, checked first
	nextDocEntry    int
	PostedDocuments []GoodsReceipt
}

// NewFake returns an empty fake ERP.
func NewFake() *Fake {
	return &Fake{
		Orders:     make(map[string]PurchaseOrder),
		Items:      make(map[string]Classification),
		PostErrors: make(map[string]error),
	}
}

// AddOrder registers a purchase order.
func (f *Fake) AddOrder(po PurchaseOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Orders[po.DocNum] = po
}

// AddItem registers an item classification.
func (f *Fake) AddItem(cls Classification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Items[cls.ItemCode] = cls
}

// FailPostsFor makes PostGoodsReceipt fail for payloads whose NumAtCard
// contains the given marker.
func (f *Fake) FailPostsFor(marker string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PostErrors[marker] = err
}

func (f *Fake) GetPurchaseOrder(ctx context.Context, docNum string) (*PurchaseOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	po, ok := f.Orders[docNum]
	if !ok {
		return nil, ErrNotFound
	}
	return &po, nil
}

func (f *Fake) OpenPurchaseOrders(ctx context.Context, cardName string) ([]PurchaseOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PurchaseOrder
	for _, po := range f.Orders {
		if po.CardName == cardName {
			out = append(out, po)
		}
	}
	return out, nil
}

func (f *Fake) ItemClassification(ctx context.Context, itemCode string) (Classification, error) {
	if err := ctx.Err(); err != nil {
		return Classification{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cls, ok := f.Items[itemCode]
	if !ok {
		return Classification{}, ErrNotFound
	}
	return cls, nil
}

func (f *Fake) PostGoodsReceipt(ctx context.Context, doc GoodsReceipt) (PostResult, error) {
	if err := ctx.Err(); err != nil {
		return PostResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for marker, err := range f.PostErrors {
		if marker != "" && strings.Contains(doc.NumAtCard, marker) {
			return PostResult{}, err
		}
	}
	f.nextDocEntry++
	f.PostedDocuments = append(f.PostedDocuments, doc)
	return PostResult{
		DocEntry: f.nextDocEntry,
		DocNum:   fmt.Sprintf("GRN-%05d", f.nextDocEntry),
	}, nil
}
