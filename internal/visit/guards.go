// Package visit implements the visit flow state machine.
//
// Guards are pure boolean predicates over accumulated session state. The same
// predicates back both UI enablement ("is the continue button active") and
// transition legality at dispatch time, so the two can never diverge.
package visit

import "github.com/fieldops/VisitPipe/internal/models"

// KYCComplete reports whether the identity-verification requirements for the
// given customer type are satisfied. Individual customers need KVKK consent
// and SMS verification; organizational customers need representative name,
// phone and consent.
func KYCComplete(ct models.CustomerType, kyc models.KYCData) bool {
	switch ct {
	case models.CustomerTypeIndividual:
		return kyc.KVKKAccepted && kyc.SMSVerified
	case models.CustomerTypeOrganization:
		return kyc.RepresentativeName != "" && kyc.RepresentativePhone != "" && kyc.RepresentativeConsent
	default:
		return false
	}
}

// CanAdvanceToKYC reports whether the Customer stage may advance. A captured
// customer is required; an out-of-region visit is pinned until approval.
func CanAdvanceToKYC(customer models.CustomerSnapshot, oor models.OORData) bool {
	if customer.CustomerID == "" && customer.Name == "" {
		return false
	}
	return !oor.IsOutOfRegion || oor.ApprovalGranted
}

// ContractConfirmed reports whether the contract requirements for
// finalization are satisfied.
func ContractConfirmed(contract models.ContractData) bool {
	return contract.ContractAccepted && contract.SMSVerified
}

// CanFinalize reports whether a visit may advance to Done: contract accepted
// and SMS-verified, a result status recorded, and OOR approval granted when
// the visit is out-of-region.
func CanFinalize(contract models.ContractData, result models.ResultData, oor models.OORData) bool {
	if !ContractConfirmed(contract) {
		return false
	}
	if result.Status == "" {
		return false
	}
	return !oor.IsOutOfRegion || oor.ApprovalGranted
}
