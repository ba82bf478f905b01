package i18n

import "testing"

func TestGetCatalogFallback(t *testing.T) {
	base := GetCatalog("en-US")
	if base == nil {
		t.Fatal("expected base catalog")
	}
	fallback := GetCatalog("missing-locale")
	if fallback != base {
		t.Fatal("expected fallback to en-US catalog")
	}
}

func TestGetCatalogCanonicalizesLocale(t *testing.T) {
	if GetCatalog("pt") != GetCatalog("pt-BR") {
		t.Fatal("expected pt to resolve to the pt-BR catalog")
	}
	if GetCatalog("en") != GetCatalog("en-US") {
		t.Fatal("expected en to resolve to the en-US catalog")
	}
}

func TestFormatRendersMetadata(t *testing.T) {
	got := GetCatalog("en-US").Format(CodeOutOfTurn, map[string]string{"Name": "Viper"})
	if got != "It is not Viper's turn to act" {
		t.Fatalf("Format = %q", got)
	}
	got = GetCatalog("pt-BR").Format(CodeOutOfTurn, map[string]string{"Name": "Viper"})
	if got != "Não é a vez de Viper agir" {
		t.Fatalf("Format pt-BR = %q", got)
	}
}

func TestFormatFallbacks(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "hello {{.Name}}",
	})

	if cat.Format("unknown", nil) != "unknown" {
		t.Fatal("expected code fallback when template missing")
	}
	if cat.Format("code", nil) != "hello <no value>" {
		t.Fatal("expected template to render missing metadata")
	}
}

func TestFormatTemplateErrorFallback(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "{{ if .Name }}",
	})
	if cat.Format("code", map[string]string{"Name": "X"}) != "{{ if .Name }}" {
		t.Fatal("expected template fallback on parse error")
	}
}

func TestFormatTemplateExecutionErrorFallback(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "{{ call .Name }}",
	})
	if cat.Format("code", map[string]string{"Name": "X"}) != "{{ call .Name }}" {
		t.Fatal("expected template fallback on execute error")
	}
}

func TestRegisterCatalog(t *testing.T) {
	custom := NewCatalog("custom", map[Code]string{"code": "ok"})
	RegisterCatalog("custom", custom)
	if got := GetCatalog("custom"); got != custom {
		t.Fatal("expected registered catalog")
	}
}

func TestCatalogsCoverSameCodes(t *testing.T) {
	for code := range enUSCatalog.messages {
		if _, ok := ptBRCatalog.messages[code]; !ok {
			t.Fatalf("pt-BR catalog missing code %s", code)
		}
	}
	for code := range ptBRCatalog.messages {
		if _, ok := enUSCatalog.messages[code]; !ok {
			t.Fatalf("en-US catalog missing code %s", code)
		}
	}
}
