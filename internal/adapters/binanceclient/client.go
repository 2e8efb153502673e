package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"cryptoLedgerBot/internal/domain"
	"cryptoLedgerBot/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements the ports.ExchangeClient interface using the go-binance library.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to standard sentinels. The
		// distinction matters to the gateway: rejections release the
		// margin reservation, ambiguous failures keep it for the
		// reconciliation loop.
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Invalid signature
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrExchangeRejected
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // API-key format invalid / bad key, IP, or permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -2019: // Margin is insufficient
			mappedErr = ports.ErrInsufficientExchangeFunds
		case -2022: // ReduceOnly order rejected
			mappedErr = ports.ErrExchangeRejected
		case -3005, -3041: // Insufficient balance / position not sufficient
			mappedErr = ports.ErrInsufficientExchangeFunds
		case -4003: // Quantity not within permissible range
			mappedErr = ports.ErrInvalidQuantity
		case -4014, -4015: // Price / leverage not valid
			mappedErr = ports.ErrInvalidRequest
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
		exchErr := &ports.ExchangeError{Code: int(apiErr.Code), Message: apiErr.Message, Sentinel: mappedErr}
		finalErr := fmt.Errorf("%s failed: %w", operation, exchErr)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.futuresClient.NewPingService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetAccount retrieves the per-asset balances of the futures account.
// Locked is derived as wallet balance minus available balance.
func (c *Client) GetAccount(ctx context.Context) ([]ports.AccountBalance, error) {
	op := "GetAccount"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	balances := make([]ports.AccountBalance, 0, len(account.Assets))
	for _, a := range account.Assets {
		wallet, err := decimal.NewFromString(a.WalletBalance)
		if err != nil {
			parseErr := fmt.Errorf("could not parse wallet balance '%s' for asset %s: %w", a.WalletBalance, a.Asset, err)
			return nil, c.handleError(ctx, parseErr, op)
		}
		available, err := decimal.NewFromString(a.AvailableBalance)
		if err != nil {
			parseErr := fmt.Errorf("could not parse available balance '%s' for asset %s: %w", a.AvailableBalance, a.Asset, err)
			return nil, c.handleError(ctx, parseErr, op)
		}
		locked := wallet.Sub(available)
		if locked.IsNegative() {
			locked = decimal.Zero
		}
		balances = append(balances, ports.AccountBalance{
			Asset:  a.Asset,
			Free:   available,
			Locked: locked,
		})
	}
	return balances, nil
}

// GetOpenOrders retrieves the authoritative open-order set for a symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]ports.OpenOrder, error) {
	op := "GetOpenOrders"
	orders, err := c.futuresClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	result := make([]ports.OpenOrder, 0, len(orders))
	for _, o := range orders {
		price, err := decimal.NewFromString(o.Price)
		if err != nil {
			parseErr := fmt.Errorf("could not parse price '%s' for order %d: %w", o.Price, o.OrderID, err)
			return nil, c.handleError(ctx, parseErr, op)
		}
		qty, err := decimal.NewFromString(o.OrigQuantity)
		if err != nil {
			parseErr := fmt.Errorf("could not parse quantity '%s' for order %d: %w", o.OrigQuantity, o.OrderID, err)
			return nil, c.handleError(ctx, parseErr, op)
		}
		result = append(result, ports.OpenOrder{
			OrderID:  o.OrderID,
			Symbol:   o.Symbol,
			Side:     domain.OrderSide(o.Side),
			Price:    price,
			Quantity: qty,
			Status:   string(o.Status),
		})
	}
	return result, nil
}

// PlaceMarketOrder places a market order and returns the fill details.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity decimal.Decimal) (*ports.OrderResult, error) {
	op := "PlaceMarketOrder"
	binanceSide := futures.SideType(side)

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(binanceSide).
		Type(futures.OrderTypeMarket).
		Quantity(quantity.String()).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	result, err := translateOrderResult(order)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity.String(),
		"orderID":  result.OrderID,
		"avgPrice": result.AvgPrice.String(),
	})
	return result, nil
}

// GetSymbolFilters retrieves the lot-size and notional constraints for a symbol.
func (c *Client) GetSymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error) {
	op := "GetSymbolFilters"
	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		filters := &ports.SymbolFilters{}
		if lot := s.LotSizeFilter(); lot != nil {
			if filters.MinQty, err = decimal.NewFromString(lot.MinQuantity); err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("could not parse min quantity '%s': %w", lot.MinQuantity, err), op)
			}
			if filters.MaxQty, err = decimal.NewFromString(lot.MaxQuantity); err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("could not parse max quantity '%s': %w", lot.MaxQuantity, err), op)
			}
			if filters.StepSize, err = decimal.NewFromString(lot.StepSize); err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("could not parse step size '%s': %w", lot.StepSize, err), op)
			}
		}
		if mn := s.MinNotionalFilter(); mn != nil {
			if filters.MinNotional, err = decimal.NewFromString(mn.Notional); err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("could not parse min notional '%s': %w", mn.Notional, err), op)
			}
		}
		return filters, nil
	}

	err = fmt.Errorf("symbol %s not found in exchange info: %w", symbol, ports.ErrNotFound)
	return nil, c.handleError(ctx, err, op)
}

// GetTickerPrice retrieves the last ticker price for a given symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (domain.Price, error) {
	op := "GetTickerPrice"
	tickers, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.Price{}, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no ticker data returned for symbol %s: %w", symbol, ports.ErrPriceUnavailable)
		return domain.Price{}, c.handleError(ctx, err, op)
	}

	value, err := decimal.NewFromString(tickers[0].LastPrice)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].LastPrice, err)
		return domain.Price{}, c.handleError(ctx, parseErr, op)
	}
	return domain.Price{Value: value, Symbol: symbol}, nil
}

// GetCurrentPrice implements ports.Pricer on top of the ticker endpoint.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (domain.Price, error) {
	price, err := c.GetTickerPrice(ctx, symbol)
	if err != nil {
		return domain.Price{}, fmt.Errorf("%w: %w", ports.ErrPriceUnavailable, err)
	}
	return price, nil
}

// --- Translation Helpers ---

func translateOrderResult(order *futures.CreateOrderResponse) (*ports.OrderResult, error) {
	if order == nil {
		return nil, errors.New("received nil order response")
	}
	avgPrice, err := decimal.NewFromString(order.AvgPrice)
	if err != nil {
		return nil, fmt.Errorf("parsing average price '%s': %w", order.AvgPrice, err)
	}
	execQty, err := decimal.NewFromString(order.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("parsing executed quantity '%s': %w", order.ExecutedQuantity, err)
	}

	return &ports.OrderResult{
		OrderID:     order.OrderID,
		Symbol:      order.Symbol,
		Side:        domain.OrderSide(order.Side),
		AvgPrice:    avgPrice,
		ExecutedQty: execQty,
		Status:      string(order.Status),
		Timestamp:   time.UnixMilli(order.UpdateTime),
	}, nil
}
