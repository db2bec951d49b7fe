// Package capsule seals medical report data into encrypted, signed capsules and
// controls access to them with claims.
//
// # Sealing
//
// A capsule holds three fields extracted from a report: raw data (JSON), a
// summary (text) and gene data (provenance JSON). Each field is serialized as
// canonical JSON and encrypted with AES-256-CBC under the current symmetric key
// and its IV; all three use the same key and IV. The canonical JSON of
// {"gene_data", "raw_data", "summary_data"} plaintexts is signed with RSA-PSS
// over SHA-512 by the platform authority key.
//
//	svc, err := capsule.NewService(ctx, cfg,
//	    capsule.WithExtractor(extractor),
//	    capsule.WithBlobStore(blobs),
//	)
//	res, err := svc.Seal(ctx, capsule.SealRequest{
//	    SourcePath: staged,
//	    Props:      capsule.CollectorProps{Owner: "patient-42", Producer: "lab-7", Type: "10001"},
//	})
//
// The additional props, a newly issued key and the capsule row are written in one
// transaction. The source document upload happens after commit; if it fails the
// capsule is kept and the failure is reported in SealResult.Warnings.
//
// # Claims
//
// A claim lets a receiver read a list of capsules until it expires. The
// authorizer signs ClaimPayload with its private key; IssueClaim refuses a claim
// whose signature does not verify against the authorizer's public key.
//
//	req := capsule.ClaimRequest{
//	    Authorizer: "patient-42", Receiver: "insurer-3",
//	    Capsules: []string{res.CapsuleID}, OneTimeUse: true,
//	    ExpiresAt: time.Now().Add(time.Hour),
//	}
//	req.AuthorizerSignature, _ = capsule.SignClaim(req, patientKey)
//	claim, err := svc.IssueClaim(ctx, req)
//
//	result, err := svc.Access(ctx, claim.ID, "insurer-3")
//	// result.State == capsule.AccessGrantedAndConsumed
//
// # Errors
//
// Every Service operation returns *Error. CodeOf maps an error to a stable code
// such as CodeValidation, CodeCryptoPadding or CodeClaimRejected; ReasonOf gives
// the RejectReason of a refused claim.
package capsule
