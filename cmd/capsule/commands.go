package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/capsule"
	"github.com/hengadev/capsule/internal/serialization"
)

func keygenCommand(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	outDir := fs.String("out", ".", "Directory for <name>.key and <name>.pem")
	name := fs.String("name", "authority", "Key pair name (an authorizer id for authorizer keys)")
	bits := fs.Int("bits", 0, "RSA modulus size (default 3072)")
	fs.Parse(args)

	privatePath, publicPath, err := writeKeyPair(*outDir, *name, *bits)
	if err != nil {
		return err
	}
	fmt.Printf("private key: %s\npublic key:  %s\n", privatePath, publicPath)
	return nil
}

func writeKeyPair(dir, name string, bits int) (string, string, error) {
	if name == "" {
		return "", "", errors.New("key name cannot be empty")
	}
	key, err := capsule.GenerateSigningKey(bits)
	if err != nil {
		return "", "", err
	}
	private, err := capsule.MarshalSigningKeyPEM(key)
	if err != nil {
		return "", "", err
	}
	public, err := capsule.MarshalPublicKeyPEM(&key.PublicKey)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	privatePath := filepath.Join(dir, name+".key")
	publicPath := filepath.Join(dir, name+".pem")
	// O_EXCL: never overwrite an existing private key.
	f, err := os.OpenFile(privatePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", "", fmt.Errorf("failed to create private key file: %w", err)
	}
	if _, err := f.Write(private); err != nil {
		f.Close()
		return "", "", fmt.Errorf("failed to write private key: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(publicPath, public, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write public key: %w", err)
	}
	return privatePath, publicPath, nil
}

func sealCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seal", flag.ExitOnError)
	var sf serviceFlags
	sf.register(fs)
	file := fs.String("file", "", "Report document to seal (required)")
	contentType := fs.String("content-type", "", "Document MIME type (default: from the file extension)")
	propsPath := fs.String("props", "", "JSON file with collector props {type, owner, producer, producer_time, sex, age, area}")
	dataType := fs.String("type", "", "Capsule data type code")
	owner := fs.String("owner", "", "Owner of the capsule")
	producer := fs.String("producer", "", "Collector id")
	rawPath := fs.String("raw", "", "JSON file with raw data (skips extraction)")
	summary := fs.String("summary", "", "Summary text, used with -raw")
	fs.Parse(args)

	if *file == "" {
		return errors.New("-file is required")
	}
	props, err := loadProps(*propsPath, *dataType, *owner, *producer)
	if err != nil {
		return err
	}

	svc, cfg, closeAll, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	// The pipeline deletes its source, so it works on a staged copy.
	staged, err := stageFile(*file, cfg.TempDir)
	if err != nil {
		return err
	}

	req := capsule.SealRequest{
		SourcePath:  staged,
		ContentType: *contentType,
		Props:       props,
		Summary:     *summary,
	}
	if req.ContentType == "" {
		req.ContentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(*file)))
	}
	if *rawPath != "" {
		if req.Raw, err = readJSONFile(*rawPath); err != nil {
			os.Remove(staged)
			return err
		}
	}

	res, err := svc.Seal(ctx, req)
	if err != nil {
		return err
	}
	warnings := make([]string, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		warnings = append(warnings, w.Error())
	}
	return printJSON(os.Stdout, map[string]any{
		"capsule_id":     res.CapsuleID,
		"key_id":         res.KeyID,
		"key_issued":     res.KeyIssued,
		"owner_claim_id": res.OwnerClaimID,
		"source_object":  res.SourceObject,
		"warnings":       warnings,
	})
}

func loadProps(path, dataType, owner, producer string) (capsule.CollectorProps, error) {
	var props capsule.CollectorProps
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return props, fmt.Errorf("failed to read props: %w", err)
		}
		if err := json.Unmarshal(data, &props); err != nil {
			return props, fmt.Errorf("invalid props file %s: %w", path, err)
		}
	}
	if dataType != "" {
		props.Type = dataType
	}
	if owner != "" {
		props.Owner = owner
	}
	if producer != "" {
		props.Producer = producer
	}
	return props, nil
}

func stageFile(src, tempDir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(tempDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	staged := filepath.Join(tempDir, uuid.NewString()+filepath.Ext(src))
	out, err := os.OpenFile(staged, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to stage %s: %w", src, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(staged)
		return "", fmt.Errorf("failed to stage %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(staged)
		return "", err
	}
	return staged, nil
}

func readJSONFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	v, err := serialization.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return v, nil
}

func grantCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	var sf serviceFlags
	sf.register(fs)
	authorizer := fs.String("authorizer", "", "Authorizer id (required)")
	keyPath := fs.String("key", "", "Authorizer private key PEM (required)")
	receiver := fs.String("receiver", "", "Receiver id (required)")
	capsules := fs.String("capsules", "", "Comma separated capsule ids (required)")
	level := fs.Int("level", capsule.PrivacyLevelOpen, "Privacy level 0-4")
	ttl := fs.Duration("ttl", 24*time.Hour, "Validity of the claim")
	oneTime := fs.Bool("one-time", false, "Consume the claim on first successful access")
	basic := fs.String("basic", "", "Comma separated basic_data scope fields")
	zkp := fs.String("zkp", "", "Comma separated zkp_data scope fields")
	fs.Parse(args)

	if *keyPath == "" {
		return errors.New("-key is required")
	}
	pemData, err := os.ReadFile(*keyPath)
	if err != nil {
		return fmt.Errorf("failed to read authorizer key: %w", err)
	}
	key, err := capsule.ParseSigningKeyPEM(pemData)
	if err != nil {
		return err
	}

	req := capsule.ClaimRequest{
		Authorizer:   *authorizer,
		Receiver:     *receiver,
		Capsules:     splitList(*capsules),
		PrivacyLevel: *level,
		Scope:        capsule.Scope{BasicData: splitList(*basic), ZKPData: splitList(*zkp)},
		OneTimeUse:   *oneTime,
		ExpiresAt:    time.Now().Add(*ttl).UTC().Truncate(time.Second),
	}
	if req.AuthorizerSignature, err = capsule.SignClaim(req, key); err != nil {
		return err
	}

	svc, _, closeAll, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	claim, err := svc.IssueClaim(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, claim)
}

func accessCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("access", flag.ExitOnError)
	var sf serviceFlags
	sf.register(fs)
	claimID := fs.String("claim", "", "Claim id")
	presenter := fs.String("presenter", "", "Identity presenting the claim")
	fs.Parse(args)

	svc, _, closeAll, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	res, err := svc.Access(ctx, *claimID, *presenter)
	if res != nil {
		if perr := printJSON(os.Stdout, res); perr != nil {
			return perr
		}
	}
	return err
}

// splitList splits a comma separated flag value, dropping blanks.
func splitList(s string) []string {
	out := []string{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
