package handler

import (
	"context"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"estorage/internal/errs"
	"estorage/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Handlers stay thin: parse, call the service, map errors.
func RegisterRoutes(app *fiber.App, svc service.DatabaseService) {
	app.Get("/health", HealthCheck(svc))
	app.Get("/healthz", LivenessProbe())

	app.Get("/uploads", ListUploads(svc))

	api := app.Group("/estorage")
	api.Get("/", ListDatabases(svc))
	api.Post("/:name", UploadDatabase(svc))
	api.Get("/:name", GetPath(svc))
	api.Get("/:name/*", GetPath(svc))
}

// HealthCheck reports readiness: the store directory and, when configured,
// the audit database must be reachable.
//
//	@Summary	Readiness probe
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	map[string]string
//	@Failure	503	{object}	errorPayload
//	@Router		/health [get]
func HealthCheck(svc service.DatabaseService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := svc.Ping(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe always answers 200 while the process serves requests.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// ListDatabases returns the names of all stored databases.
//
//	@Summary	List databases
//	@Tags		estorage
//	@Produce	json
//	@Success	200	{array}		string
//	@Failure	500	{object}	errorPayload
//	@Router		/estorage [get]
func ListDatabases(svc service.DatabaseService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		names, err := svc.List(c.UserContext())
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(names)
	}
}

// UploadDatabase replaces a database with an uploaded zip bundle
// (multipart/form-data, field name: file).
//
//	@Summary	Upload a database bundle
//	@Tags		estorage
//	@Accept		multipart/form-data
//	@Produce	json
//	@Param		name	path		string	true	"Database name"
//	@Param		file	formData	file	true	"Zip bundle"
//	@Success	200		{object}	model.UploadResult
//	@Failure	400		{object}	errorPayload
//	@Failure	500		{object}	errorPayload
//	@Router		/estorage/{name} [post]
func UploadDatabase(svc service.DatabaseService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name, err := nameParam(c)
		if err != nil {
			return writeServiceError(c, err)
		}

		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}
		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		res, err := svc.Upload(c.UserContext(), name, f)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// GetPath lists a directory or streams a file inside a database. The
// database root is listed when no path is given.
//
//	@Summary	Browse a database
//	@Tags		estorage
//	@Produce	json,octet-stream
//	@Param		name	path		string	true	"Database name"
//	@Param		path	path		string	false	"Path inside the database"
//	@Success	200		{array}		model.DirEntry
//	@Failure	400		{object}	errorPayload
//	@Failure	404		{object}	errorPayload
//	@Router		/estorage/{name}/{path} [get]
func GetPath(svc service.DatabaseService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name, err := nameParam(c)
		if err != nil {
			return writeServiceError(c, err)
		}

		res, err := svc.GetPath(c.UserContext(), name, utils.CopyString(c.Params("*")))
		if err != nil {
			return writeServiceError(c, err)
		}
		if res.IsDir() {
			return c.JSON(res.Entries)
		}

		// The stream is closed by fasthttp once the body is written.
		if ext := filepath.Ext(res.Info.Name()); ext != "" {
			c.Type(ext)
		} else {
			c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
		}
		return c.SendStream(res.File, int(res.Info.Size()))
	}
}

// ListUploads returns the upload history with limit & offset, optionally
// filtered by database name.
//
//	@Summary	Upload history
//	@Tags		estorage
//	@Produce	json
//	@Param		db		query		string	false	"Database name"
//	@Param		limit	query		int		false	"Page size"	default(10)
//	@Param		offset	query		int		false	"Offset"	default(0)
//	@Success	200		{object}	service.UploadListResult
//	@Failure	400		{object}	errorPayload
//	@Router		/uploads [get]
func ListUploads(svc service.DatabaseService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := svc.ListUploads(c.UserContext(), utils.CopyString(c.Query("db")), limit, offset)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(res)
	}
}

// nameParam returns the percent-decoded :name segment. Route params are not
// unescaped by the router and alias the request buffer, so the value is
// copied before it reaches locks or spans that outlive the handler.
func nameParam(c *fiber.Ctx) (string, error) {
	raw := utils.CopyString(c.Params("name"))
	name, err := url.PathUnescape(raw)
	if err != nil {
		return "", errs.Quoted(errs.ErrInvalidIdentifier, raw)
	}
	return name, nil
}
