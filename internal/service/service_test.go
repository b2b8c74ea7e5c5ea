package service_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"

	"trustvoice/internal/answer"
	"trustvoice/internal/domain"
	"trustvoice/internal/embedding"
	"trustvoice/internal/embedding/hashing"
	"trustvoice/internal/service"
	"trustvoice/internal/vectorstore/memory"
)

const complaintsCSV = `company,product,issue,consumer_complaint_narrative
Bank A,Credit card,Billing dispute,My card was charged twice for one purchase and the bank refused a refund.
Bank B,Mortgage,Payment,The mortgage payment was not applied to my loan.
Bank B,Mortgage,Payment,The mortgage payment was not applied to my loan.
Bank C,Checking account,Fees,
Bank D,Debt collection,Harassment,A debt collector keeps calling my employer every day.
Bank E,Checking account,Overdraft,Overdraft fees were charged after my deposit cleared.
Bank F,Credit card,Interest,My credit card interest rate was raised without notice.
Bank G,Student loan,Servicing,My student loan servicer lost my paperwork.
`

type echoGenerator struct{}

func (echoGenerator) Name() string { return "echo" }

func (echoGenerator) Generate(_ context.Context, prompt string, _ domain.GenerateOptions) (string, error) {
	if strings.Contains(prompt, "charged twice") {
		return "Customers were charged twice.", nil
	}
	return "I don't have " + answer.NotEnoughInformation + ".", nil
}

func newService(t *testing.T, gen domain.Generator) (*service.Service, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "complaints.csv")
	gt.NoError(t, os.WriteFile(path, []byte(complaintsCSV), 0o644)).Required()

	model, err := hashing.New(256)
	gt.NoError(t, err).Required()
	emb := embedding.NewAdapter(model, 256)
	store := memory.NewStorage(dir, "financial_complaints", 256, emb.ModelID())
	return service.New(emb, store, gen), path
}

func TestBuildThenQuery(t *testing.T) {
	ctx := context.Background()
	svc, path := newService(t, echoGenerator{})

	report, err := svc.Build(ctx, path)
	gt.NoError(t, err).Required()
	gt.Value(t, report.Loaded).Equal(7)
	gt.Value(t, report.Indexed).Equal(7)

	info, err := svc.Info(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, info.Name).Equal("financial_complaints")
	gt.Value(t, info.DocumentCount).Equal(7)
	gt.Value(t, info.Dimension).Equal(256)
	gt.Value(t, info.EmbeddingModel).Equal(hashing.ModelID)

	results, err := svc.SearchSimilar(ctx, "card charged twice", 0)
	gt.NoError(t, err).Required()
	gt.Array(t, results).Length(service.DefaultTopK)
	gt.Value(t, results[0].Metadata["company"]).Equal("Bank A")

	text, err := svc.GenerateAnswer(ctx, "Why was my card charged twice?", 2)
	gt.NoError(t, err).Required()
	gt.Value(t, text).Equal("Customers were charged twice.")
}

func TestBuildExpandsGlobs(t *testing.T) {
	svc, path := newService(t, nil)

	report, err := svc.Build(context.Background(), filepath.Join(filepath.Dir(path), "*.csv"))
	gt.NoError(t, err).Required()
	gt.Value(t, report.Indexed).Equal(7)
}

func TestBuildWithoutSources(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.Build(context.Background())
	gt.Error(t, err).Is(domain.ErrInvalidRequest)
}

func TestSearchRejectsNegativeTopK(t *testing.T) {
	svc, path := newService(t, nil)
	_, err := svc.Build(context.Background(), path)
	gt.NoError(t, err).Required()

	_, err = svc.SearchSimilar(context.Background(), "fees", -1)
	gt.Error(t, err).Is(domain.ErrInvalidRequest)
}

func TestQueriesBeforeBuildDegrade(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, echoGenerator{})

	results, err := svc.SearchSimilar(ctx, "card charged twice", 5)
	gt.NoError(t, err).Required()
	gt.Array(t, results).Length(0)

	text, err := svc.GenerateAnswer(ctx, "Why was my card charged twice?", 5)
	gt.NoError(t, err).Required()
	gt.Value(t, text).Equal(answer.NoContextAnswer)
}

func TestSearchWithUnavailableModelIsEmpty(t *testing.T) {
	dir := t.TempDir()
	emb := embedding.NewDisabled("all-minilm", 384, errors.New("not installed"))
	svc := service.New(emb, memory.NewStorage(dir, "financial_complaints", 384, "all-minilm"), nil)

	results, err := svc.SearchSimilar(context.Background(), "fees", 5)
	gt.NoError(t, err).Required()
	gt.Array(t, results).Length(0)
}

func TestConcurrentQueries(t *testing.T) {
	ctx := context.Background()
	svc, path := newService(t, echoGenerator{})
	_, err := svc.Build(ctx, path)
	gt.NoError(t, err).Required()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := svc.SearchSimilar(ctx, "mortgage payment", 3)
			if err != nil {
				errs <- err
				return
			}
			if len(results) != 3 {
				errs <- fmt.Errorf("query %d: got %d results", i, len(results))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestWarmLoadsModel(t *testing.T) {
	svc, _ := newService(t, nil)
	gt.NoError(t, svc.Warm(context.Background()))

	emb := embedding.NewDisabled("all-minilm", 256, errors.New("no credentials"))
	store := memory.NewStorage(t.TempDir(), "financial_complaints", 256, emb.ModelID())
	disabled := service.New(emb, store, nil)
	gt.Error(t, disabled.Warm(context.Background())).Is(domain.ErrModelUnavailable)
}
