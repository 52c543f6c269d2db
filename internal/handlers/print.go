package handlers

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"printserver/internal/chrome"
	"printserver/internal/domain"
	"printserver/internal/printer"
	"printserver/internal/render"
	"printserver/internal/spool"
	u "printserver/internal/utils"
)

const (
	healthMessage = "Print server is running!"

	msgHTMLFailed     = "Failed to generate or print PDF."
	msgBase64Failed   = "Failed to send print job."
	msgPrintersFailed = "Failed to get printers."
)

// Deps are the collaborators a PrintService orchestrates. Redis and Markdown
// are optional.
type Deps struct {
	Renderer   render.Renderer
	Markdown   *render.MarkdownConverter
	Dispatcher printer.Dispatcher
	Directory  printer.Directory
	Spool      *spool.Manager
	Redis      *redis.Client
}

// PrintService bundles configuration and adapters for the print endpoints.
type PrintService struct {
	Config *u.Config
	Redis  *redis.Client

	renderer   render.Renderer
	markdown   *render.MarkdownConverter
	dispatcher printer.Dispatcher
	directory  printer.Directory
	spool      *spool.Manager
	validate   *validator.Validate
}

// poolStatser is implemented by renderers backed by a Chrome pool.
type poolStatser interface {
	PoolStats() (chrome.Stats, bool, error)
}

// NewPrintService creates a new PrintService instance.
func NewPrintService(cfg u.Config, deps Deps) *PrintService {
	md := deps.Markdown
	if md == nil {
		md = render.NewMarkdownConverter()
	}
	sm := deps.Spool
	if sm == nil {
		sm = &spool.Manager{}
	}
	return &PrintService{
		Config:     &cfg,
		Redis:      deps.Redis,
		renderer:   deps.Renderer,
		markdown:   md,
		dispatcher: deps.Dispatcher,
		directory:  deps.Directory,
		spool:      sm,
		validate:   newValidator(),
	}
}

// HandleHealth is the liveness probe at GET /.
func (svc *PrintService) HandleHealth(c *fiber.Ctx) error {
	return c.SendString(healthMessage)
}

// HandleHTMLPrint renders htmlContent to PDF and sends it to the printer.
func (svc *PrintService) HandleHTMLPrint(c *fiber.Ctx) error {
	var req HTMLPrintRequest
	if err := bindRequest(c, svc.validate, &req); err != nil {
		return badRequest(c, err)
	}
	if len(req.HTMLContent) > svc.Config.Limits.MaxHTMLBytes {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "HTML exceeds allowed size"})
	}

	name := normalizePrinter(req.PrinterName)
	u.Info("Received HTML print request", "printer", printerLabel(name), "paper", paperOrDefault(req.PaperSize), "request_id", requestID(c))

	return svc.renderAndPrint(c, req.HTMLContent, req.PaperSize, name)
}

// HandleMarkdownPrint converts markdownContent to HTML, then renders and prints it.
func (svc *PrintService) HandleMarkdownPrint(c *fiber.Ctx) error {
	var req MarkdownPrintRequest
	if err := bindRequest(c, svc.validate, &req); err != nil {
		return badRequest(c, err)
	}
	if len(req.MarkdownContent) > svc.Config.Limits.MaxHTMLBytes {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "Markdown exceeds allowed size"})
	}

	name := normalizePrinter(req.PrinterName)
	u.Info("Received Markdown print request", "printer", printerLabel(name), "paper", paperOrDefault(req.PaperSize), "request_id", requestID(c))

	html, err := svc.markdown.ToHTML(c.UserContext(), req.MarkdownContent)
	if err != nil {
		return serverError(c, msgHTMLFailed, domain.Wrap(domain.ErrRender, err))
	}
	return svc.renderAndPrint(c, html, req.PaperSize, name)
}

// HandleBase64Print decodes a ready-made PDF and sends it to the printer.
func (svc *PrintService) HandleBase64Print(c *fiber.Ctx) error {
	var req Base64PrintRequest
	if err := bindRequest(c, svc.validate, &req); err != nil {
		return badRequest(c, err)
	}

	pdf, err := decodeDocument(req.Base64Data)
	if err != nil {
		return badRequest(c, err)
	}
	if len(pdf) > svc.Config.Limits.MaxPDFBytes {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "PDF exceeds allowed size"})
	}

	name := normalizePrinter(req.PrinterName)
	u.Info("Received Base64 print request", "printer", printerLabel(name), "bytes", len(pdf), "request_id", requestID(c))

	jobID, err := svc.printDocument(c.UserContext(), pdf, name)
	if err != nil {
		u.Error("Print job failed", "printer", printerLabel(name), "error", err, "request_id", requestID(c))
		return serverError(c, msgBase64Failed, err)
	}

	u.Info("Print job sent", "printer", printerLabel(name), "job_id", jobID, "request_id", requestID(c))
	return printed(c, "PDF print job sent successfully.", jobID)
}

// HandlePrinters lists the destinations known to the spooler.
func (svc *PrintService) HandlePrinters(c *fiber.Ctx) error {
	printers, err := svc.directory.ListPrinters(c.UserContext())
	if err != nil {
		u.Error("Failed to list printers", "error", err, "request_id", requestID(c))
		return serverError(c, msgPrintersFailed, domain.Wrap(domain.ErrDirectory, err))
	}
	if printers == nil {
		printers = []printer.Printer{}
	}
	return c.JSON(printers)
}

// HandleChromeStats exposes basic observability for the Chrome pool (capacity / idle / in_use).
func (svc *PrintService) HandleChromeStats(c *fiber.Ctx) error {
	disabled := chrome.Stats{
		PoolSizeConf: svc.Config.PDF.ChromePoolSize,
		TimeoutSecs:  svc.Config.PDF.TimeoutSecs,
	}

	ps, ok := svc.renderer.(poolStatser)
	if !ok {
		return c.JSON(disabled)
	}
	stats, enabled, err := ps.PoolStats()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Chrome pool init failed: "+err.Error())
	}
	if !enabled {
		return c.JSON(disabled)
	}
	return c.JSON(stats)
}

func (svc *PrintService) renderAndPrint(c *fiber.Ctx, markup, paperSize, name string) error {
	ctx := c.UserContext()

	pdf, err := svc.renderPDF(ctx, markup, paperOrDefault(paperSize))
	if err != nil {
		u.Error("PDF generation failed", "error", err, "request_id", requestID(c))
		return serverError(c, msgHTMLFailed, err)
	}
	if len(pdf) > svc.Config.Limits.MaxPDFBytes {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "PDF exceeds allowed size"})
	}

	jobID, err := svc.printDocument(ctx, pdf, name)
	if err != nil {
		u.Error("Print job failed", "printer", printerLabel(name), "error", err, "request_id", requestID(c))
		return serverError(c, msgHTMLFailed, err)
	}

	u.Info("Print job sent", "printer", printerLabel(name), "job_id", jobID, "request_id", requestID(c))
	return printed(c, "HTML print job sent successfully.", jobID)
}

// renderPDF serves a cached copy when the PDF cache is enabled.
func (svc *PrintService) renderPDF(ctx context.Context, markup, paperSize string) ([]byte, error) {
	useCache := svc.Redis != nil && svc.Config.Cache.PDFCacheEnabled
	cacheKey := computePDFCacheKey(markup, paperSize)

	if useCache {
		if cached, err := getCachedPDF(ctx, svc.Redis, cacheKey); err == nil && cached != nil {
			return cached, nil
		}
	}

	pdf, err := svc.renderer.Render(ctx, markup, paperSize)
	if err != nil {
		return nil, domain.Wrap(domain.ErrRender, err)
	}

	if useCache {
		setCachedPDF(ctx, svc.Redis, cacheKey, pdf, svc.Config.Cache.PDFCacheTTL)
	}
	return pdf, nil
}

// printDocument spools pdf to a temporary file for the duration of the
// dispatch. The file is removed whatever the outcome.
func (svc *PrintService) printDocument(ctx context.Context, pdf []byte, name string) (string, error) {
	var jobID string
	err := svc.spool.WithFile(pdf, func(path string) error {
		id, err := svc.dispatcher.Dispatch(ctx, printer.Job{Path: path, Printer: name})
		if err != nil {
			return domain.Wrap(domain.ErrDispatch, err)
		}
		jobID = id
		return nil
	})
	return jobID, err
}

func printed(c *fiber.Ctx, message, jobID string) error {
	resp := fiber.Map{"message": message}
	if jobID != "" {
		resp["jobId"] = jobID
	}
	return c.JSON(resp)
}

func badRequest(c *fiber.Ctx, err error) error {
	msg := domain.ClientMessage(err)
	if msg == "" {
		msg = "Invalid request body."
	}
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// serverError maps a pipeline failure. Validation failures surfacing from an
// adapter are still the client's fault.
func serverError(c *fiber.Ctx, message string, err error) error {
	if errors.Is(err, domain.ErrValidation) {
		return badRequest(c, err)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   message,
		"details": err.Error(),
	})
}

func requestID(c *fiber.Ctx) string {
	if id := c.Get(fiber.HeaderXRequestID); id != "" {
		return id
	}
	return c.GetRespHeader(fiber.HeaderXRequestID)
}
