package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
)

// countingTx hands out increasing ids and records every dimension insert.
type countingTx struct {
	catalog.Tx
	next    int64
	inserts []string
	err     error
}

func (c *countingTx) add(label string) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.next++
	c.inserts = append(c.inserts, label)
	return 100 + c.next, nil
}

func (c *countingTx) InsertCategory(_ context.Context, name string) (int64, error) {
	return c.add("category:" + name)
}

func (c *countingTx) InsertProductType(_ context.Context, name string) (int64, error) {
	return c.add("product_type:" + name)
}

func (c *countingTx) InsertTax(_ context.Context, amount decimal.Decimal) (int64, error) {
	return c.add("tax:" + amount.String())
}

func seededRunContext() *RunContext {
	return NewRunContext(uuid.New(), catalog.Dimensions{
		Categories:   []catalog.Category{{ID: 1, Name: "Poetry"}},
		ProductTypes: []catalog.ProductType{{ID: 2, Name: "Books"}},
		Taxes:        []catalog.Tax{{ID: 3, Amount: decimal.RequireFromString("0.00")}},
	})
}

func TestResolverUsesSeededDimensions(t *testing.T) {
	t.Parallel()

	rc := seededRunContext()
	tx := &countingTx{}
	r := NewResolver(rc)
	ctx := context.Background()

	id, err := r.Category(ctx, tx, "  Poetry ")
	require.NoError(t, err)
	require.EqualValues(t, 1, id)

	id, err = r.ProductType(ctx, tx, "Books")
	require.NoError(t, err)
	require.EqualValues(t, 2, id)

	id, err = r.Tax(ctx, tx, decimal.Zero)
	require.NoError(t, err)
	require.EqualValues(t, 3, id)

	require.Empty(t, tx.inserts)
}

func TestResolverStagesUntilCommit(t *testing.T) {
	t.Parallel()

	rc := seededRunContext()
	tx := &countingTx{}
	r := NewResolver(rc)
	ctx := context.Background()

	first, err := r.Category(ctx, tx, "Travel")
	require.NoError(t, err)
	again, err := r.Category(ctx, tx, "Travel")
	require.NoError(t, err)
	require.Equal(t, first, again)
	require.Equal(t, []string{"category:Travel"}, tx.inserts)

	_, ok := rc.CachedID(KindCategory, "Travel")
	require.False(t, ok, "staged ids stay out of the run cache before commit")

	r.Commit()
	cached, ok := rc.CachedID(KindCategory, "Travel")
	require.True(t, ok)
	require.Equal(t, first, cached)
	require.Equal(t, 2, rc.CacheSize(KindCategory))
}

func TestResolverDiscardForgetsInserts(t *testing.T) {
	t.Parallel()

	rc := seededRunContext()
	tx := &countingTx{}
	r := NewResolver(rc)
	ctx := context.Background()

	_, err := r.ProductType(ctx, tx, "Ebooks")
	require.NoError(t, err)
	r.Discard()
	r.Commit()

	_, ok := rc.CachedID(KindProductType, "Ebooks")
	require.False(t, ok)

	_, err = r.ProductType(ctx, tx, "Ebooks")
	require.NoError(t, err)
	require.Len(t, tx.inserts, 2, "a discarded id must be resolved again")
}

func TestResolverTaxKeysIgnoreScale(t *testing.T) {
	t.Parallel()

	rc := seededRunContext()
	tx := &countingTx{}
	r := NewResolver(rc)
	ctx := context.Background()

	a, err := r.Tax(ctx, tx, decimal.RequireFromString("2.50"))
	require.NoError(t, err)
	b, err := r.Tax(ctx, tx, decimal.RequireFromString("2.5"))
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, tx.inserts, 1)
	require.Equal(t, TaxKey(decimal.RequireFromString("2.50")), TaxKey(decimal.RequireFromString("2.5")))
}

func TestResolveTaxStringMatchesCommittedAmount(t *testing.T) {
	t.Parallel()

	rc := seededRunContext()
	tx := &countingTx{}
	ctx := context.Background()

	r := NewResolver(rc)
	first, err := r.Tax(ctx, tx, decimal.RequireFromString("2.5"))
	require.NoError(t, err)
	r.Commit()

	next := NewResolver(rc)
	for _, key := range []string{"2.50", " 2.5 ", "2.500"} {
		id, err := next.Resolve(ctx, tx, KindTax, key)
		require.NoError(t, err, key)
		require.Equal(t, first, id, key)
	}
	require.Equal(t, []string{"tax:2.5"}, tx.inserts)
}

func TestResolverTaxRoundsToStoredScale(t *testing.T) {
	t.Parallel()

	rc := seededRunContext()
	tx := &countingTx{}
	r := NewResolver(rc)
	ctx := context.Background()

	a, err := r.Tax(ctx, tx, decimal.RequireFromString("2.555"))
	require.NoError(t, err)
	r.Commit()
	b, err := NewResolver(rc).Tax(ctx, tx, decimal.RequireFromString("2.56"))
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, []string{"tax:2.56"}, tx.inserts, "the rounded amount is what gets stored")
	require.Equal(t, "2.56", TaxKey(decimal.RequireFromString("2.555")))
}

func TestResolverInsertErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("insert failed")
	r := NewResolver(seededRunContext())
	_, err := r.Category(context.Background(), &countingTx{err: boom}, "Travel")
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, `resolve category "Travel"`)

	_, err = r.Resolve(context.Background(), &countingTx{}, KindTax, "not-a-number")
	require.ErrorContains(t, err, "parse tax amount")

	_, err = r.Resolve(context.Background(), &countingTx{}, Kind("publisher"), "Penguin")
	require.ErrorContains(t, err, "unknown dimension kind")
}

func TestRunContextDeduplicates(t *testing.T) {
	t.Parallel()

	rc := seededRunContext()
	require.False(t, rc.Seen("a897fe39b1053632"))
	rc.Mark("a897fe39b1053632")
	rc.Mark("a897fe39b1053632")
	require.True(t, rc.Seen("a897fe39b1053632"))
	require.False(t, rc.Seen("90fa61229261140a"))
	require.Equal(t, 1, rc.Processed())
}
