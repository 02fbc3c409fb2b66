package dropbox

import "context"

// Account identifies the authenticated user.
type Account struct {
	AccountID   string
	DisplayName string
	Email       string
}

// SpaceUsage reports storage consumption against the account allocation.
// Allocated is zero when the service reports no individual allocation
// (e.g. unlimited team space).
type SpaceUsage struct {
	Used      int64
	Allocated int64
}

type currentAccountResponse struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Name      struct {
		DisplayName string `json:"display_name"`
	} `json:"name"`
}

type spaceUsageResponse struct {
	Used       int64 `json:"used"`
	Allocation struct {
		Tag       string `json:".tag"` //nolint:tagliatelle // Dropbox union discriminator key
		Allocated int64  `json:"allocated"`
	} `json:"allocation"`
}

// GetCurrentAccount returns the account the current credential belongs to.
func (c *Client) GetCurrentAccount(ctx context.Context) (*Account, error) {
	var result currentAccountResponse
	if err := c.rpc(ctx, "/users/get_current_account", nil, &result); err != nil {
		return nil, err
	}

	return &Account{
		AccountID:   result.AccountID,
		DisplayName: result.Name.DisplayName,
		Email:       result.Email,
	}, nil
}

// GetSpaceUsage returns the account's storage usage and allocation.
func (c *Client) GetSpaceUsage(ctx context.Context) (*SpaceUsage, error) {
	var result spaceUsageResponse
	if err := c.rpc(ctx, "/users/get_space_usage", nil, &result); err != nil {
		return nil, err
	}

	return &SpaceUsage{
		Used:      result.Used,
		Allocated: result.Allocation.Allocated,
	}, nil
}
