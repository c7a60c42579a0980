package api

import (
	"errors"   // Error matching
	"net/http" // HTTP status codes
	"strconv"  // String conversion

	"crowdfunding/internal/chain" // Contract errors
	"crowdfunding/internal/store" // Pagination

	"github.com/gin-gonic/gin" // Gin web framework
)

// parsePage reads page and page_size query parameters; page_size is capped at 100
func parsePage(c *gin.Context) store.Page {
	page := 1      // Default page
	pageSize := 20 // Default page size
	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}
	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}
	return store.Page{Page: page, PageSize: pageSize}
}

// fail writes the standard error body
func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// chainFailure maps a contract error to a status and a message fit for users
func chainFailure(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, chain.ErrInsufficientFunds):
		return http.StatusBadRequest, "Insufficient funds in wallet for gas fees. Please add Sepolia ETH to your wallet."
	case errors.Is(err, chain.ErrGasEstimation):
		return http.StatusBadRequest, "Transaction would fail. Please check the campaign state and parameters."
	case errors.Is(err, chain.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, chain.ErrInvalidAddress):
		return http.StatusBadRequest, "Invalid campaign address format"
	case errors.Is(err, chain.ErrNoContract):
		return http.StatusNotFound, "No contract deployed at this address"
	case errors.Is(err, chain.ErrUnavailable):
		return http.StatusServiceUnavailable, "Blockchain network is unavailable. Please try again later."
	default:
		return http.StatusInternalServerError, fallback
	}
}
