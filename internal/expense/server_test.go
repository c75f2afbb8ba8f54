package expense

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/moromii/receipt-ledger/internal/extraction"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		service     *Service
		syncFn      SyncFunc
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
	)

	newTestService := func() *Service {
		return NewServiceWithDeps(db, newMockRecognizer(), extraction.NewEngine(),
			newMockStorage(), nil, nil, nil,
			&mockIDGenerator{id: "test-id-123"},
			&mockTimeSource{now: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)})
	}

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = newTestService()
		server = NewServerWithMux(service, syncFn, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	BeforeEach(func() {
		db = newMockDB()
		syncFn = nil
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleListExpenses", func() {
		When("records exist", func() {
			BeforeEach(func() {
				now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
				a := New("id-1", "2024-03-01", "会議費", 1100, now)
				b := New("id-2", "2024-02-01", "交通費", 220, now)
				b.Tombstone(now)
				db.records["id-1"] = &a
				db.records["id-2"] = &b
			})

			It("should return only the active records", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/expenses")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var records []Record
				Expect(json.NewDecoder(resp.Body).Decode(&records)).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(1))
				Expect(records[0].ID).To(Equal("id-1"))
			})
		})
	})

	Describe("handleCreateExpense", func() {
		When("the body is a valid record", func() {
			It("should create the record and return 201", func() {
				body := `{"date":"2024-03-05","category":"会議費","amount":1100}`
				resp, err := http.Post(ghttpServer.URL()+"/api/expenses", "application/json", strings.NewReader(body))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var rec Record
				Expect(json.NewDecoder(resp.Body).Decode(&rec)).NotTo(HaveOccurred())
				Expect(rec.ID).To(Equal("test-id-123"))
				Expect(rec.TaxExcluded).To(Equal(1000))
				Expect(db.records).To(HaveKey("test-id-123"))
			})
		})

		When("the body fails validation", func() {
			It("should return 422 and save nothing", func() {
				body := `{"date":"","category":"会議費","amount":1100}`
				resp, err := http.Post(ghttpServer.URL()+"/api/expenses", "application/json", strings.NewReader(body))
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(db.records).To(BeEmpty())
			})
		})

		When("the body is not JSON", func() {
			It("should return 400", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/expenses", "application/json", strings.NewReader("not json"))
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleGetExpense", func() {
		When("the record exists", func() {
			BeforeEach(func() {
				rec := New("id-1", "2024-03-01", "会議費", 1100,
					time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
				db.records["id-1"] = &rec
			})

			It("should return the record", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/expenses/id-1")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var rec Record
				Expect(json.NewDecoder(resp.Body).Decode(&rec)).NotTo(HaveOccurred())
				Expect(rec.ID).To(Equal("id-1"))
			})
		})

		When("the record does not exist", func() {
			It("should return 404", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/expenses/nonexistent")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("handleUpdateExpense", func() {
		BeforeEach(func() {
			rec := New("id-1", "2024-03-01", "会議費", 1100,
				time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
			db.records["id-1"] = &rec
		})

		It("should apply the edits", func() {
			body := `{"date":"2024-03-02","category":"交通費","amount":220}`
			req, err := http.NewRequest(http.MethodPut, ghttpServer.URL()+"/api/expenses/id-1", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.records["id-1"].Category).To(Equal("交通費"))
		})
	})

	Describe("handleDeleteExpense", func() {
		BeforeEach(func() {
			rec := New("id-1", "2024-03-01", "会議費", 1100,
				time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
			db.records["id-1"] = &rec
		})

		It("should tombstone the record and return 204", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/expenses/id-1", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.records["id-1"].Status).To(Equal(StatusDeleted))
		})
	})

	Describe("handleScanReceipt", func() {
		postImage := func() *http.Response {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			fw, err := mw.CreateFormFile("file", "receipt.jpg")
			Expect(err).NotTo(HaveOccurred())
			_, err = fw.Write([]byte("fake image data"))
			Expect(err).NotTo(HaveOccurred())
			Expect(mw.Close()).NotTo(HaveOccurred())

			resp, err := http.Post(ghttpServer.URL()+"/api/receipts", mw.FormDataContentType(), &buf)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		It("should return a draft with extracted candidates", func() {
			resp := postImage()
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var draft Draft
			Expect(json.NewDecoder(resp.Body).Decode(&draft)).NotTo(HaveOccurred())
			Expect(draft.Amount).To(Equal("1234"))
			Expect(draft.Date).To(Equal("2024-03-05"))
			Expect(draft.ImageRef).To(Equal("test-id-123_receipt.jpg"))
		})

		It("should not persist a record", func() {
			resp := postImage()
			resp.Body.Close()
			Expect(db.records).To(BeEmpty())
		})

		When("no file is attached", func() {
			It("should return 400", func() {
				var buf bytes.Buffer
				mw := multipart.NewWriter(&buf)
				Expect(mw.Close()).NotTo(HaveOccurred())
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", mw.FormDataContentType(), &buf)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleStats", func() {
		BeforeEach(func() {
			now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
			a := New("id-1", "2024-03-01", "会議費", 1100, now)
			b := New("id-2", "2024-02-01", "交通費", 220, now)
			db.records["id-1"] = &a
			db.records["id-2"] = &b
		})

		It("should return the totals", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/stats")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var stats Stats
			Expect(json.NewDecoder(resp.Body).Decode(&stats)).NotTo(HaveOccurred())
			Expect(stats.TotalAmount).To(Equal(1320))
			Expect(stats.MonthlyTotal).To(Equal(1100))
			Expect(stats.Count).To(Equal(2))
		})
	})

	Describe("handleExportCSV", func() {
		BeforeEach(func() {
			rec := New("id-1", "2024-03-01", "会議費", 1100,
				time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
			db.records["id-1"] = &rec
		})

		It("should return BOM-prefixed CSV", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses/export")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("text/csv"))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body[:3]).To(Equal([]byte{0xEF, 0xBB, 0xBF}))
			Expect(string(body)).To(ContainSubstring("2024-03-01"))
		})
	})

	Describe("handleSync", func() {
		When("no sync is configured", func() {
			It("should return 503", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/sync", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
			})
		})

		When("the sync succeeds", func() {
			var called bool

			BeforeEach(func() {
				called = false
				syncFn = func(ctx context.Context) error {
					called = true
					return nil
				}
			})

			It("should trigger a cycle and return 200", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/sync", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(called).To(BeTrue())
			})
		})

		When("a cycle is already running", func() {
			BeforeEach(func() {
				syncFn = func(ctx context.Context) error {
					return ErrSyncBusy
				}
			})

			It("should report busy with 202", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/sync", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

				var payload map[string]string
				Expect(json.NewDecoder(resp.Body).Decode(&payload)).NotTo(HaveOccurred())
				Expect(payload["status"]).To(Equal("busy"))
			})
		})

		When("the sync fails", func() {
			BeforeEach(func() {
				syncFn = func(ctx context.Context) error {
					return errors.New("drive unreachable")
				}
			})

			It("should return 502", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/sync", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			})
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		When("no credentials are sent", func() {
			It("should return 401", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/expenses")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})

		When("valid credentials are sent", func() {
			It("should serve the request", func() {
				req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/expenses", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("admin", "secret")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})

		When("wrong credentials are sent", func() {
			It("should return 401", func() {
				req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/expenses", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("admin", "wrong")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})
	})
})
