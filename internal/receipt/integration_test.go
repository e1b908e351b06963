package receipt_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/shopspring/decimal"

	"github.com/zombor/fintrack/internal/auth"
	"github.com/zombor/fintrack/internal/database"
	"github.com/zombor/fintrack/internal/receipt"
	"github.com/zombor/fintrack/internal/scanning"
)

// fixedScanner always reports the same receipt
type fixedScanner struct {
	data *scanning.ReceiptData
}

func (f *fixedScanner) ScanReceipt(_ context.Context, _ []byte, _ string) (*scanning.ReceiptData, error) {
	return f.data, nil
}

func (f *fixedScanner) Close() error {
	return nil
}

var _ = Describe("Integration", func() {
	var (
		tempDir  string
		store    *receipt.LocalStorage
		db       *receipt.BoltDB
		server   *receipt.Server
		ghServer *ghttp.Server
		client   *http.Client
		cookie   *http.Cookie
	)

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()

		bolt, err := database.OpenBolt(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(bolt.Close)

		db, err = receipt.NewBoltDB(bolt)
		Expect(err).NotTo(HaveOccurred())
		users, err := auth.NewBoltStore(bolt)
		Expect(err).NotTo(HaveOccurred())

		store, err = receipt.NewLocalStorage(filepath.Join(tempDir, "receipt-images"), "")
		Expect(err).NotTo(HaveOccurred())

		date := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
		scanner := &fixedScanner{data: &scanning.ReceiptData{
			Merchant:    "Test Integration Market",
			Date:        &date,
			TotalAmount: decimal.RequireFromString("42.50"),
			Items: []scanning.Item{
				{Name: "Groceries", Quantity: 1, Price: decimal.RequireFromString("42.50")},
			},
		}}

		service := receipt.NewService(db, scanner, store)
		server = receipt.NewServer(service, auth.NewService(users, time.Hour), receipt.NewDraftStore(), receipt.Options{})

		ghServer = ghttp.NewServer()
		DeferCleanup(ghServer.Close)
		ghServer.SetAllowUnhandledRequests(false)

		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
		cookie = nil
	})

	do := func(req *http.Request) *http.Response {
		ghServer.AppendHandlers(server.ServeHTTP)
		if cookie != nil {
			req.AddCookie(cookie)
		}
		resp, err := client.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	postForm := func(path string, form url.Values) *http.Response {
		req, err := http.NewRequest(http.MethodPost, ghServer.URL()+path, strings.NewReader(form.Encode()))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return do(req)
	}

	It("should sign up, add a scanned receipt and show it on the dashboard", func() {
		resp := postForm("/signup", url.Values{"email": {"it@example.com"}, "password": {"secret1"}})
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
		for _, c := range resp.Cookies() {
			if c.Name == "fintrack_session" {
				cookie = c
			}
		}
		Expect(cookie).NotTo(BeNil())

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "receipt.pdf")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("%PDF-1.4 ... fake pdf content ..."))
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest(http.MethodPost, ghServer.URL()+"/receipts/new/upload", body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		resp = do(req)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))

		resp = postForm("/receipts/new/submit", nil)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
		Expect(resp.Header.Get("Location")).To(Equal("/dashboard?added=1"))

		req, err = http.NewRequest(http.MethodGet, ghServer.URL()+"/api/dashboard", nil)
		Expect(err).NotTo(HaveOccurred())
		resp = do(req)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var summary receipt.Summary
		Expect(json.NewDecoder(resp.Body).Decode(&summary)).To(Succeed())
		Expect(summary.Count).To(Equal(1))
		Expect(summary.TotalSpent.StringFixed(2)).To(Equal("42.50"))
		Expect(summary.Recent).To(HaveLen(1))

		saved := summary.Recent[0]
		Expect(saved.Merchant).To(Equal("Test Integration Market"))
		Expect(saved.Date).To(Equal(receipt.NewDate(2024, time.March, 20)))
		Expect(saved.ContentType).To(Equal("application/pdf"))

		data, err := store.Get(context.Background(), saved.ImageRef)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(HavePrefix("%PDF"))

		stored, err := db.GetReceipt(context.Background(), saved.Owner, saved.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Items).To(HaveLen(1))
	})
})
