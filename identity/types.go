package identity

import "strings"

// User is a directory principal as returned by the users endpoint.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	AccountEnabled    bool   `json:"accountEnabled"`
	UserType          string `json:"userType"` // "Member" or "Guest" when the directory reports it
}

// Policy is a conditional access policy.
type Policy struct {
	ID            string        `json:"id"`
	DisplayName   string        `json:"displayName"`
	State         string        `json:"state"` // enabled | disabled | enabledForReportingButNotEnforced
	GrantControls GrantControls `json:"grantControls"`
}

type GrantControls struct {
	Operator        string   `json:"operator"`
	BuiltInControls []string `json:"builtInControls"` // e.g. ["mfa", "compliantDevice"]
}

const PolicyStateEnabled = "enabled"

func (p Policy) Active() bool {
	return p.State == PolicyStateEnabled
}

// Requires reports whether the policy's grant controls include control, ignoring case.
func (p Policy) Requires(control string) bool {
	for _, c := range p.GrantControls.BuiltInControls {
		if strings.EqualFold(c, control) {
			return true
		}
	}
	return false
}

// RoleMember is a principal holding a directory role.
type RoleMember struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// License is a subscribed SKU with its seat counts.
type License struct {
	SkuID         string `json:"skuId"`
	SkuPartNumber string `json:"skuPartNumber"`
	EnabledUnits  int    `json:"-"`
	ConsumedUnits int    `json:"consumedUnits"`
}

// subscribedSku is the wire shape of a license; enabled seats are nested.
type subscribedSku struct {
	SkuID         string `json:"skuId"`
	SkuPartNumber string `json:"skuPartNumber"`
	ConsumedUnits int    `json:"consumedUnits"`
	PrepaidUnits  struct {
		Enabled int `json:"enabled"`
	} `json:"prepaidUnits"`
}

func (s subscribedSku) license() License {
	return License{
		SkuID:         s.SkuID,
		SkuPartNumber: s.SkuPartNumber,
		EnabledUnits:  s.PrepaidUnits.Enabled,
		ConsumedUnits: s.ConsumedUnits,
	}
}

// collection is an OData list response.
type collection[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}
