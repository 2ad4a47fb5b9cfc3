package rule_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"

	"github.com/yeisme/dedupvault/pkg/rule"
)

// uploadForm 与上传初始化请求的字段规则一致.
type uploadForm struct {
	Filename string `rule:"required,filename"`
	Size     int64  `rule:"gt=0"`
	Parts    int    `rule:"min=1,max=10000"`
}

func TestEngine(t *testing.T) {
	if rule.Engine() == nil {
		t.Fatal("Engine() returned nil")
	}

	if rule.Engine() != rule.Engine() {
		t.Error("Engine() should return the same instance")
	}
}

func TestFilenameRule(t *testing.T) {
	valid := []string{"report.pdf", "photo 01.JPG", "数据.txt", ".env"}
	for _, name := range valid {
		if err := rule.ValidateVar(name, "filename"); err != nil {
			t.Errorf("expected %q to be valid, got %v", name, err)
		}
	}

	invalid := []string{"", "   ", ".", "..", "a/b.txt", "a\\b.txt", "bad\x00name", strings.Repeat("x", 256)}
	for _, name := range invalid {
		if err := rule.ValidateVar(name, "filename"); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}

	if !rule.ValidFilename(strings.Repeat("x", rule.MaxFilenameBytes)) {
		t.Error("name of exactly MaxFilenameBytes should pass")
	}
}

func TestErrors(t *testing.T) {
	err := rule.ValidateStruct(uploadForm{Filename: "", Size: 0, Parts: 1})

	errs := rule.Errors(err)
	if len(errs) != 2 {
		t.Fatalf("expected 2 field errors, got %v", errs)
	}

	if errs["Filename"] != "failed on rule required" {
		t.Errorf("unexpected message for Filename: %q", errs["Filename"])
	}

	if errs.String() != "Filename: failed on rule required; Size: failed on rule gt=0" {
		t.Errorf("unexpected joined message: %s", errs.String())
	}

	if rule.Errors(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestValidateUploadForm(t *testing.T) {
	cases := []struct {
		name string
		form uploadForm
		ok   bool
	}{
		{"valid", uploadForm{Filename: "a.bin", Size: 1, Parts: 1}, true},
		{"path in name", uploadForm{Filename: "../a.bin", Size: 1, Parts: 1}, false},
		{"empty file", uploadForm{Filename: "a.bin", Size: 0, Parts: 1}, false},
		{"no parts", uploadForm{Filename: "a.bin", Size: 1, Parts: 0}, false},
		{"too many parts", uploadForm{Filename: "a.bin", Size: 1, Parts: 10001}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := rule.ValidateStruct(tc.form)
			if tc.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}

			if !tc.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRegisterValidation(t *testing.T) {
	err := rule.RegisterValidation("sha256hex", func(fl validator.FieldLevel) bool {
		b, err := hex.DecodeString(fl.Field().String())
		return err == nil && len(b) == 32
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := rule.ValidateVar(strings.Repeat("ab", 32), "sha256hex"); err != nil {
		t.Errorf("expected digest to pass, got %v", err)
	}

	if err := rule.ValidateVar("abcd", "sha256hex"); err == nil {
		t.Error("expected short digest to fail")
	}
}

func TestRegisterAlias(t *testing.T) {
	rule.RegisterAlias("tenant_id", "required,max=255,printascii")

	if err := rule.ValidateVar("acme", "tenant_id"); err != nil {
		t.Errorf("expected tenant to pass, got %v", err)
	}

	for _, bad := range []string{"", strings.Repeat("t", 256), "租户"} {
		if err := rule.ValidateVar(bad, "tenant_id"); err == nil {
			t.Errorf("expected %q to fail", bad)
		}
	}
}
