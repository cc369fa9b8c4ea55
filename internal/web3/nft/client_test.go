package nft

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"WalletHub/internal/web3"
)

func TestNFTsFollowsPagesAndMapsFields(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/nft/v3/test-key/getNFTsForOwner" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("owner") != "0xabc" {
			t.Errorf("unexpected owner %s", r.URL.Query().Get("owner"))
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageKey") == "" {
			fmt.Fprint(w, `{"ownedNfts":[{"contract":{"address":"0xnft","name":"Punks","openSeaMetadata":{"collectionName":"CryptoPunks"}},"tokenId":"7","name":"Punk #7","image":{"cachedUrl":"https://img/7"}}],"pageKey":"next"}`)
			return
		}
		fmt.Fprint(w, `{"ownedNfts":[{"contract":{"address":"0xnft2","name":"Art"},"tokenId":"1","image":{"originalUrl":"ipfs://1"}}]}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"}, web3.DefaultChainRegistry())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	nfts, err := client.NFTs(context.Background(), "0xabc", 137)
	if err != nil {
		t.Fatalf("NFTs: %v", err)
	}
	if hits.Load() != 2 || len(nfts) != 2 {
		t.Fatalf("expected 2 pages and 2 nfts, got %d pages %+v", hits.Load(), nfts)
	}
	first := nfts[0]
	if first.Contract != "0xnft" || first.TokenID != "7" || first.Collection != "CryptoPunks" || first.Image != "https://img/7" || first.ChainID != 137 {
		t.Fatalf("unexpected first nft %+v", first)
	}
	if nfts[1].Collection != "Art" || nfts[1].Image != "ipfs://1" {
		t.Fatalf("fallback fields not applied: %+v", nfts[1])
	}
}

func TestNFTsSurfacesUpstreamErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, _ := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, nil)
	if _, err := client.NFTs(context.Background(), "0xabc", 1); err == nil {
		t.Fatalf("expected error on 429")
	}
}

func TestNFTsRejectsChainWithoutNetwork(t *testing.T) {
	client, _ := NewClient(Config{BaseURL: "http://unused", APIKey: "k"}, nil)
	if _, err := client.NFTs(context.Background(), "0xabc", 56); err == nil {
		t.Fatalf("expected unsupported chain error")
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}, nil); err == nil {
		t.Fatalf("expected error without base url")
	}
}
